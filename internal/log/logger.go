// Package log configures the process-wide zerolog logger and hands out
// component-scoped children.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error" (default "info")
	Output  io.Writer // defaults to os.Stderr
	Console bool      // human-readable output instead of JSON
}

// EnvLevel names the environment variable that overrides the log level.
const EnvLevel = "LIVEWALL_LOG_LEVEL"

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure replaces the base logger. Safe to call more than once; the last
// call wins.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	} else if env := LevelFromEnv(); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	mu.Lock()
	base = l
	mu.Unlock()
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// LevelFromEnv returns LIVEWALL_LOG_LEVEL, which overrides the level
// from the config file.
func LevelFromEnv() string {
	return os.Getenv(EnvLevel)
}

// ValidLevel reports whether s parses as a zerolog level.
func ValidLevel(s string) bool {
	_, err := zerolog.ParseLevel(s)
	return err == nil
}
