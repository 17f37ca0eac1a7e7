// Package config loads livewall's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"livewall/internal/log"
	"livewall/internal/media"
)

// Duration is a time.Duration that decodes from TOML strings like "8s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type PlaybackConfig struct {
	Muted        bool     `toml:"muted"`
	MaxWidth     int      `toml:"max_width"`
	MaxHeight    int      `toml:"max_height"`
	StallTimeout Duration `toml:"stall_timeout"`
}

// MaxResolution returns the decode hint, zero when unset.
func (p PlaybackConfig) MaxResolution() media.Resolution {
	return media.Resolution{Width: p.MaxWidth, Height: p.MaxHeight}
}

type LibraryConfig struct {
	Dir string `toml:"dir"`
}

type StateConfig struct {
	Path string `toml:"path"`
}

type VLCConfig struct {
	Path      string   `toml:"path"`
	ExtraArgs []string `toml:"extra_args"`
	Volume    int      `toml:"volume"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

type ControlConfig struct {
	Addr string `toml:"addr"`
}

type ReportConfig struct {
	Endpoint string   `toml:"endpoint"`
	ID       string   `toml:"id"`
	Key      string   `toml:"key"`
	Interval Duration `toml:"interval"`
}

// Enabled reports whether status reporting is configured.
func (r ReportConfig) Enabled() bool {
	return r.Endpoint != "" && r.ID != ""
}

// DisplayConfig names one render target.
type DisplayConfig struct {
	ID     string `toml:"id"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type Config struct {
	Playback PlaybackConfig  `toml:"playback"`
	Library  LibraryConfig   `toml:"library"`
	State    StateConfig     `toml:"state"`
	VLC      VLCConfig       `toml:"vlc"`
	Log      LogConfig       `toml:"log"`
	Control  ControlConfig   `toml:"control"`
	Report   ReportConfig    `toml:"report"`
	Displays []DisplayConfig `toml:"display"`

	configPath string
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "livewall")
}

func DefaultConfig() *Config {
	configDir := DefaultConfigDir()
	home, _ := os.UserHomeDir()

	return &Config{
		Playback: PlaybackConfig{
			Muted:        true,
			StallTimeout: Duration{8 * time.Second},
		},
		Library: LibraryConfig{
			Dir: filepath.Join(home, "Movies", "Wallpapers"),
		},
		State: StateConfig{
			Path: filepath.Join(configDir, "state.json"),
		},
		VLC: VLCConfig{
			Volume: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Report: ReportConfig{
			Interval: Duration{time.Minute},
		},
	}
}

// Load reads the config file at path (default ~/.config/livewall/config.toml).
// A missing file yields the defaults with a single "main" display.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DefaultConfigDir(), "config.toml")
	}
	path = expandPath(path)

	cfg := DefaultConfig()
	cfg.configPath = path

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.postProcess()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) postProcess() {
	c.Library.Dir = expandPath(c.Library.Dir)
	c.State.Path = expandPath(c.State.Path)
	c.VLC.Path = expandPath(c.VLC.Path)
	c.Report.Key = os.ExpandEnv(c.Report.Key)
	c.Report.Endpoint = strings.TrimRight(c.Report.Endpoint, "/")
	if len(c.Displays) == 0 {
		c.Displays = []DisplayConfig{{ID: "main"}}
	}
}

func (c *Config) Validate() error {
	if c.Playback.MaxWidth < 0 || c.Playback.MaxHeight < 0 {
		return fmt.Errorf("playback: max_width/max_height must not be negative")
	}
	if (c.Playback.MaxWidth == 0) != (c.Playback.MaxHeight == 0) {
		return fmt.Errorf("playback: set both max_width and max_height or neither")
	}
	if c.Playback.StallTimeout.Duration < time.Second {
		return fmt.Errorf("playback: stall_timeout must be at least 1s (got %s)", c.Playback.StallTimeout.Duration)
	}
	if c.VLC.Volume < 0 || c.VLC.Volume > 512 {
		return fmt.Errorf("vlc: volume must be between 0 and 512")
	}
	if !log.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	if c.Report.Endpoint != "" && !strings.HasPrefix(c.Report.Endpoint, "http://") && !strings.HasPrefix(c.Report.Endpoint, "https://") {
		return fmt.Errorf("report: endpoint must be an http(s) URL")
	}
	if c.Report.Enabled() && c.Report.Interval.Duration < time.Second {
		return fmt.Errorf("report: interval must be at least 1s")
	}

	ids := make(map[string]bool)
	for _, d := range c.Displays {
		if d.ID == "" {
			return fmt.Errorf("display: missing id")
		}
		if ids[d.ID] {
			return fmt.Errorf("display: duplicate id %q", d.ID)
		}
		ids[d.ID] = true
		if d.Width < 0 || d.Height < 0 {
			return fmt.Errorf("display %q: invalid size %dx%d", d.ID, d.Width, d.Height)
		}
	}
	return nil
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
