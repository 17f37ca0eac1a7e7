// Package system provides host-level helpers: source existence checks,
// disk usage and the health check behind `livewall check`.
package system

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"livewall/internal/config"
	"livewall/internal/log"
	"livewall/internal/media"
	"livewall/internal/vlc"
)

// FileChecker reports whether a source path is a readable regular file.
// It satisfies engine.SourceChecker.
type FileChecker struct{}

// Exists implements engine.SourceChecker.
func (FileChecker) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// DiskStatus is the usage of one filesystem.
type DiskStatus struct {
	Path      string  `json:"path"`
	UsedPct   float64 `json:"used_pct"`
	FreeBytes uint64  `json:"free_bytes"`
	Err       string  `json:"error,omitempty"`
}

// HealthStatus represents the current host health snapshot.
type HealthStatus struct {
	VLCPath      string       `json:"vlc_path"`
	VLCErr       string       `json:"vlc_error,omitempty"`
	LibraryDir   string       `json:"library_dir"`
	LibraryFiles int          `json:"library_files"`
	LibraryErr   string       `json:"library_error,omitempty"`
	Disks        []DiskStatus `json:"disks"`
	Timestamp    time.Time    `json:"timestamp"`
}

// OK reports whether playback can start: VLC found and the library readable.
func (h HealthStatus) OK() bool {
	return h.VLCErr == "" && h.LibraryErr == ""
}

// GetDiskUsage returns the usage percentage and free bytes for
// the filesystem mounted at the given path (default "/").
func GetDiskUsage(path string) (usedPct float64, freeBytes uint64, err error) {
	if path == "" {
		path = "/"
	}
	if runtime.GOOS == "windows" {
		return 0, 0, fmt.Errorf("disk usage not supported on windows")
	}

	// -P keeps one line per filesystem; -k works on both GNU and BSD df.
	out, err := exec.Command("df", "-P", "-k", path).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("df command failed: %w", err)
	}
	return parseDF(string(out))
}

func parseDF(out string) (float64, uint64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output")
	}

	// Filesystem 1024-blocks Used Available Capacity Mounted-on
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return 0, 0, fmt.Errorf("unexpected df fields")
	}

	avail, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk free: %w", err)
	}

	pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk pct: %w", err)
	}

	return pct, avail * 1024, nil
}

// RunHealthCheck checks everything `run` depends on.
func RunHealthCheck(cfg *config.Config) HealthStatus {
	logger := log.WithComponent("system")
	status := HealthStatus{
		LibraryDir: cfg.Library.Dir,
		Timestamp:  time.Now(),
	}

	vlcPath := cfg.VLC.Path
	if vlcPath == "" {
		p, err := vlc.Find()
		if err != nil {
			status.VLCErr = err.Error()
		}
		vlcPath = p
	} else if _, err := os.Stat(vlcPath); err != nil {
		status.VLCErr = err.Error()
	}
	status.VLCPath = vlcPath

	entries, err := os.ReadDir(cfg.Library.Dir)
	if err != nil {
		status.LibraryErr = err.Error()
	} else {
		for _, e := range entries {
			if !e.IsDir() && media.IsVideo(e.Name()) {
				status.LibraryFiles++
			}
		}
	}

	for _, p := range []string{cfg.Library.Dir, filepath.Dir(cfg.State.Path)} {
		ds := DiskStatus{Path: p}
		if pct, free, err := GetDiskUsage(existingParent(p)); err == nil {
			ds.UsedPct = pct
			ds.FreeBytes = free
		} else {
			ds.Err = err.Error()
			logger.Warn().Err(err).Str("path", p).Msg("disk read error")
		}
		status.Disks = append(status.Disks, ds)
	}

	logger.Info().
		Str("vlc", status.VLCPath).
		Int("library_files", status.LibraryFiles).
		Bool("ok", status.OK()).
		Msg("health check")

	return status
}

// existingParent walks up from path until it finds something df can stat.
func existingParent(path string) string {
	for p := path; p != "" && p != "."; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if parent := filepath.Dir(p); parent == p {
			break
		}
	}
	return "/"
}

// EnsureDir creates a directory and all parents if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
