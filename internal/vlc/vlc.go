// Package vlc provides the decode pipelines behind the playback engine.
//
// The default backend runs VLC as a subprocess per pipeline and drives it
// over the remote-control interface on a Unix socket. Builds with the
// libvlc tag use in-process libVLC instead (CGO).
package vlc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"livewall/internal/engine"
)

// Config tunes the VLC backends.
type Config struct {
	// Path to the vlc/cvlc binary. Empty means Find().
	Path string
	// ExtraArgs are appended before the media path.
	ExtraArgs []string
	// StallTimeout is how long playback time may stand still while
	// playing before the pipeline reports a stall.
	StallTimeout time.Duration
	// PollInterval is the rc status polling period.
	PollInterval time.Duration
	// SocketDir holds the rc sockets. Defaults to os.TempDir().
	SocketDir string
	// Volume restored on unmute (VLC scale, 256 = 100%).
	Volume int
}

const (
	defaultStallTimeout = 8 * time.Second
	defaultPollInterval = time.Second
	defaultVolume       = 256
	fileCachingMs       = 3000
)

func (c *Config) applyDefaults() {
	if c.StallTimeout <= 0 {
		c.StallTimeout = defaultStallTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SocketDir == "" {
		c.SocketDir = os.TempDir()
	}
	if c.Volume <= 0 {
		c.Volume = defaultVolume
	}
}

// NewBackend returns the backend this binary was built with.
func NewBackend(cfg Config) (engine.Backend, error) {
	cfg.applyDefaults()
	return newBackend(cfg)
}

// buildArgs returns the VLC command line for one pipeline. The source
// path is always last.
func buildArgs(goos string, req engine.OpenRequest, rc endpoint, extra []string) []string {
	args := []string{
		"--no-video-title-show", // No filename overlay
		"--no-osd",              // No on-screen display
		"--no-spu",              // No subtitles
		"--no-random",

		"--avcodec-hw=any",           // HW decode where available
		"--avcodec-threads=0",        // Auto-detect cores
		"--avcodec-skiploopfilter=0", // Keep deblocking

		"--file-caching=" + strconv.Itoa(fileCachingMs),
		"--clock-jitter=0",
		"--deinterlace=0",

		"--verbose=0", // errors only; stderr is scanned for decoder errors

		"--extraintf=oldrc",
		"--rc-fake-tty",
	}

	if rc.network == "unix" {
		args = append(args, "--rc-unix="+rc.addr)
	} else {
		args = append(args, "--rc-host="+rc.addr)
	}

	switch goos {
	case "windows":
		args = append(args,
			"--no-video-deco",
			"--no-qt-fs-controller",
			"--no-qt-name-in-title",
			"--no-qt-privacy-ask",
			"--mouse-hide-timeout=0",
			"--vout=direct3d11",
		)
	case "darwin":
		args = append(args, "--intf=dummy")
	}
	args = append(args, "--fullscreen")

	if req.Mode == engine.ModeManualFallback {
		args = append(args, "--no-loop", "--no-repeat")
	} else {
		args = append(args, "--loop")
	}

	if req.Paused {
		args = append(args, "--start-paused")
	}
	if !req.MaxResolution.IsZero() {
		// Advisory: only honoured by sources that offer several renditions.
		args = append(args, "--preferred-resolution="+strconv.Itoa(req.MaxResolution.Height))
	}

	args = append(args, extra...)
	args = append(args, req.Source.Path())
	return args
}

// Find locates the VLC executable. On Linux cvlc (no Qt interface) is
// preferred.
func Find() (string, error) {
	if runtime.GOOS == "linux" {
		for _, name := range []string{"cvlc", "/usr/bin/cvlc"} {
			if path, err := exec.LookPath(name); err == nil {
				return path, nil
			}
		}
	}

	if path, err := exec.LookPath("vlc"); err == nil {
		return path, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "windows":
		candidates = []string{
			`C:\Program Files\VideoLAN\VLC\vlc.exe`,
			`C:\Program Files (x86)\VideoLAN\VLC\vlc.exe`,
		}
	case "darwin":
		candidates = []string{
			"/Applications/VLC.app/Contents/MacOS/VLC",
		}
	default:
		candidates = []string{
			"/usr/bin/vlc",
			"/snap/bin/vlc",
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("VLC not found: install it from https://www.videolan.org/vlc/")
}
