// Package library watches the wallpaper video folder and keeps a sorted
// list of playable files. The CLI uses it to pick a source and to notice
// when the playing source disappears.
package library

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"livewall/internal/log"
	"livewall/internal/media"
)

// OnChangeFunc is invoked when the folder's video list changes. removed
// holds files that were listed before and are gone now.
type OnChangeFunc func(files, removed []string)

// Watcher monitors a directory and maintains a sorted list of videos.
type Watcher struct {
	mu       sync.RWMutex
	dir      string
	files    []string
	watcher  *fsnotify.Watcher
	onChange OnChangeFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

// NewWatcher creates a Watcher for dir and performs the initial scan.
func NewWatcher(dir string, onChange OnChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		watcher:  fw,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		log:      log.WithComponent("library").With().Str("dir", dir).Logger(),
	}
	w.scan()
	return w, nil
}

// scan rebuilds the sorted file list and returns the files that
// disappeared since the previous scan.
func (w *Watcher) scan() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("scan failed")
		return nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if media.IsVideo(entry.Name()) {
			files = append(files, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(files)

	w.mu.Lock()
	prev := w.files
	w.files = files
	w.mu.Unlock()

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	var removed []string
	for _, f := range prev {
		if !present[f] {
			removed = append(removed, f)
		}
	}

	w.log.Debug().Int("videos", len(files)).Msg("scanned")
	return removed
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Files returns the current sorted list of video paths.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dst := make([]string, len(w.files))
	copy(dst, w.files)
	return dst
}

// Contains reports whether path is currently listed.
func (w *Watcher) Contains(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, f := range w.files {
		if f == path {
			return true
		}
	}
	return false
}

// Next returns the file after current in sorted order, wrapping around,
// skipping current itself. It returns "" when no other file exists.
func (w *Watcher) Next(current string) string {
	files := w.Files()
	if len(files) == 0 {
		return ""
	}
	idx := sort.SearchStrings(files, current)
	for i := 0; i < len(files); i++ {
		f := files[(idx+i)%len(files)]
		if f != current {
			return f
		}
	}
	return ""
}

// Start watches the directory until Stop is called.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.log.Info().Msg("monitoring")

	for {
		select {
		case <-w.stopCh:
			w.log.Info().Msg("stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if isRelevantEvent(event) {
				w.log.Debug().Str("op", event.Op.String()).Str("name", event.Name).Msg("event")
				removed := w.scan()
				if w.onChange != nil {
					w.onChange(w.Files(), removed)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// Stop halts the watcher loop and releases the fsnotify resources. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

// isRelevantEvent filters for create, remove and rename events that
// change the folder contents.
func isRelevantEvent(e fsnotify.Event) bool {
	return e.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
