// Package media provides media type detection and the immutable Source
// reference the playback engine consumes.
package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Type represents the kind of media file.
type Type int

const (
	Unknown Type = iota
	Video
)

func (t Type) String() string {
	switch t {
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// Video file extensions.
var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".ts":   true,
	".hevc": true,
	".flv":  true,
	".wmv":  true,
}

// Detect returns the media type for a given file path based on extension.
func Detect(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	if videoExts[ext] {
		return Video
	}
	return Unknown
}

// IsVideo returns true if the file has a recognized video extension.
func IsVideo(path string) bool {
	return Detect(path) == Video
}

// ErrUnsupported is returned by NewSource for paths that are not videos.
var ErrUnsupported = errors.New("unsupported media type")

// Source is an immutable reference to a video file. The zero value is an
// empty source; use NewSource to build a valid one.
type Source struct {
	path string
}

// NewSource cleans path, makes it absolute and checks that it names a
// video file. The file itself is not opened.
func NewSource(path string) (Source, error) {
	if strings.TrimSpace(path) == "" {
		return Source{}, fmt.Errorf("empty source path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !IsVideo(abs) {
		return Source{}, fmt.Errorf("%s: %w", filepath.Base(abs), ErrUnsupported)
	}
	return Source{path: abs}, nil
}

// Path returns the absolute file path.
func (s Source) Path() string { return s.path }

// Name returns the file's base name.
func (s Source) Name() string {
	if s.path == "" {
		return ""
	}
	return filepath.Base(s.path)
}

// IsZero reports whether s is the empty source.
func (s Source) IsZero() bool { return s.path == "" }

func (s Source) String() string { return s.path }

// Resolution is a decode-size hint. The zero value means "no hint".
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether r carries no hint.
func (r Resolution) IsZero() bool { return r.Width <= 0 || r.Height <= 0 }

// Clamp returns the largest size no bigger than native that fits inside r,
// keeping native's aspect ratio. It never upscales: a zero hint or a hint
// larger than native returns native unchanged.
func (r Resolution) Clamp(native Resolution) Resolution {
	if r.IsZero() || native.IsZero() {
		return native
	}
	if native.Width <= r.Width && native.Height <= r.Height {
		return native
	}
	// scale = min(r.W/native.W, r.H/native.H)
	w, h := r.Width, native.Height*r.Width/native.Width
	if h > r.Height {
		w, h = native.Width*r.Height/native.Height, r.Height
	}
	return Resolution{Width: w, Height: h}
}

func (r Resolution) String() string {
	if r.IsZero() {
		return "native"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}
