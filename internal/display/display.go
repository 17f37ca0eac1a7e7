// Package display provides the render targets a session attaches to, one
// per configured display.
package display

import (
	"sync"

	"github.com/rs/zerolog"

	"livewall/internal/engine"
	"livewall/internal/log"
	"livewall/internal/media"
)

// Target is a view of the session's shared pipeline on one display. It
// only tracks the attachment; the VLC window covers the display itself.
type Target struct {
	id   string
	size media.Resolution
	log  zerolog.Logger

	mu       sync.Mutex
	pipeline engine.Pipeline
	attaches int
}

// NewTarget returns a detached target for the display id.
func NewTarget(id string, size media.Resolution) *Target {
	return &Target{
		id:   id,
		size: size,
		log:  log.WithComponent("display").With().Str("display", id).Logger(),
	}
}

// ID implements engine.RenderTarget.
func (t *Target) ID() string { return t.id }

// Size returns the display size; zero means unknown.
func (t *Target) Size() media.Resolution { return t.size }

// Attach implements engine.RenderTarget.
func (t *Target) Attach(p engine.Pipeline) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pipeline = p
	t.attaches++
	t.log.Debug().Int("attaches", t.attaches).Str("size", t.size.String()).Msg("attached")
	return nil
}

// Detach implements engine.RenderTarget. Detaching a detached target is a
// no-op.
func (t *Target) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipeline == nil {
		return
	}
	t.pipeline = nil
	t.log.Debug().Msg("detached")
}

// Attached reports whether the target currently shows a pipeline.
func (t *Target) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipeline != nil
}

// Attaches counts how many pipelines the target has been attached to.
func (t *Target) Attaches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attaches
}

// DecodeHint picks the decode hint for a set of displays: the largest
// known display, shrunk to fit the explicit limit when one is set. A limit
// never raises the hint above the largest display. Zero means decode
// natively.
func DecodeHint(limit media.Resolution, targets []*Target) media.Resolution {
	best := largest(targets)
	if best.IsZero() {
		return limit
	}
	return limit.Clamp(best)
}

// largest returns the biggest display, or zero when any display size is
// unknown.
func largest(targets []*Target) media.Resolution {
	var best media.Resolution
	for _, t := range targets {
		if t.size.IsZero() {
			return media.Resolution{}
		}
		if t.size.Width*t.size.Height > best.Width*best.Height {
			best = t.size
		}
	}
	return best
}
