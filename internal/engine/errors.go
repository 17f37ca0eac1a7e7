package engine

import (
	"errors"
	"fmt"

	"livewall/internal/media"
)

var (
	// ErrPipelineUnavailable means the backend could not open a pipeline.
	// Start returns it without retrying.
	ErrPipelineUnavailable = errors.New("pipeline unavailable")

	// ErrSourceMissing means the source file disappeared before a rebuild.
	ErrSourceMissing = errors.New("source missing")

	// ErrTornDown is returned by operations on a torn-down session.
	ErrTornDown = errors.New("session torn down")
)

// PermanentFailure is delivered to the failure callback when a session
// can no longer recover. The session stays in StateFailedPermanent until
// torn down.
type PermanentFailure struct {
	SessionID string
	Source    media.Source
	Reason    error
}

func (f *PermanentFailure) Error() string {
	return fmt.Sprintf("session %s (%s): permanent failure: %v", f.SessionID, f.Source.Name(), f.Reason)
}

func (f *PermanentFailure) Unwrap() error { return f.Reason }
