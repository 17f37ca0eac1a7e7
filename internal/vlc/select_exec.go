//go:build !libvlc

package vlc

import "livewall/internal/engine"

func newBackend(cfg Config) (engine.Backend, error) {
	return NewExecBackend(cfg)
}
