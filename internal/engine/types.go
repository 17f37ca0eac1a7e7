package engine

import (
	"context"
	"time"

	"livewall/internal/media"
)

// State is the lifecycle state of a playback session.
type State int

const (
	StateLoopingPrimary State = iota
	StateRetryPending
	StateManualFallback
	StateFailedPermanent
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateLoopingPrimary:
		return "looping-primary"
	case StateRetryPending:
		return "retry-pending"
	case StateManualFallback:
		return "manual-fallback"
	case StateFailedPermanent:
		return "failed-permanent"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Mode selects how a pipeline loops.
type Mode int

const (
	// ModeLoopingPrimary relies on the backend's native seamless loop.
	ModeLoopingPrimary Mode = iota
	// ModeManualFallback plays the clip once and reports EndOfMedia; the
	// session restarts it with SeekToStart.
	ModeManualFallback
)

func (m Mode) String() string {
	if m == ModeManualFallback {
		return "manual-fallback"
	}
	return "looping-primary"
}

// FaultKind classifies transient pipeline faults.
type FaultKind int

const (
	FaultStall FaultKind = iota
	FaultDecodeError
	FaultItemFailed
)

func (k FaultKind) String() string {
	switch k {
	case FaultStall:
		return "stall"
	case FaultDecodeError:
		return "decode-error"
	case FaultItemFailed:
		return "item-failed"
	default:
		return "unknown"
	}
}

// Event is a notification from a pipeline to its session.
type Event struct {
	// EndOfMedia is set when playback naturally reached the end of the clip.
	EndOfMedia bool
	Fault      FaultKind
	Err        error
}

// FaultEvent builds a fault notification.
func FaultEvent(kind FaultKind, err error) Event {
	return Event{Fault: kind, Err: err}
}

// EndOfMediaEvent builds an end-of-media notification.
func EndOfMediaEvent() Event {
	return Event{EndOfMedia: true}
}

// Observer receives pipeline events. Backends call Notify from any
// goroutine; it never blocks. Once the owning session detaches the
// observer, further events are dropped.
type Observer interface {
	Notify(Event)
}

// OpenRequest describes the pipeline a session wants.
type OpenRequest struct {
	Source        media.Source
	Mode          Mode
	Muted         bool
	Paused        bool
	MaxResolution media.Resolution
	Observer      Observer
}

// Backend opens decode pipelines. Open may return before the pipeline is
// buffering.
type Backend interface {
	Open(ctx context.Context, req OpenRequest) (Pipeline, error)
}

// Pipeline is one live decode pipeline for a single source.
//
// Implementations must not call back into the session synchronously;
// events go through the Observer handed to Open. A pipeline opened paused
// starts playing on SetPaused(false).
type Pipeline interface {
	Play() error
	SetPaused(paused bool) error
	SetMuted(muted bool) error
	SeekToStart() error
	Close() error
}

// RenderTarget is a view (one per display) onto the session's pipeline.
// Targets never mutate pipeline state. Detach must be safe to call when
// the target is not attached.
type RenderTarget interface {
	ID() string
	Attach(p Pipeline) error
	Detach()
}

// SourceChecker decides whether a source file still exists.
type SourceChecker interface {
	Exists(path string) bool
}

// SourceCheckerFunc adapts a function to SourceChecker.
type SourceCheckerFunc func(path string) bool

// Exists implements SourceChecker.
func (f SourceCheckerFunc) Exists(path string) bool { return f(path) }

// StartOptions are per-start settings injected by the caller.
type StartOptions struct {
	Muted  bool
	Paused bool
	// MaxResolution is a decode hint; the zero value means native size.
	MaxResolution media.Resolution
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	State            string    `json:"state"`
	Mode             string    `json:"mode"`
	RetryCount       int       `json:"retry_count"`
	Paused           bool      `json:"paused"`
	Muted            bool      `json:"muted"`
	PipelinesCreated int       `json:"pipelines_created"`
	Targets          []string  `json:"targets"`
	StartedAt        time.Time `json:"started_at"`
	LastFault        string    `json:"last_fault,omitempty"`
}
