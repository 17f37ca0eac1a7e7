// Package engine keeps a single video source looping forever. Each Start
// yields a Session: an actor that owns one decode pipeline, absorbs
// transient faults with a fixed backoff, downgrades to a manual restart
// loop when the native loop keeps failing, and reports permanent failure
// through a callback.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"livewall/internal/log"
	"livewall/internal/media"
)

// Recorder receives engine telemetry. All methods must be cheap and safe
// for concurrent use.
type Recorder interface {
	PipelineOpened(mode string)
	FaultObserved(kind string)
	RetryScheduled(attempt int)
	FallbackEntered()
	PermanentFailure()
	StateChanged(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) PipelineOpened(string)       {}
func (nopRecorder) FaultObserved(string)        {}
func (nopRecorder) RetryScheduled(int)          {}
func (nopRecorder) FallbackEntered()            {}
func (nopRecorder) PermanentFailure()           {}
func (nopRecorder) StateChanged(string, string) {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for retry timers.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSourceChecker replaces the os.Stat based existence check.
func WithSourceChecker(c SourceChecker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithSchedule replaces DefaultSchedule.
func WithSchedule(s RetrySchedule) Option {
	return func(e *Engine) { e.schedule = s }
}

// WithOnPermanentFailure registers the failure callback. It runs on its
// own goroutine, so it may call back into the engine (TearDown, Start).
func WithOnPermanentFailure(fn func(*PermanentFailure)) Option {
	return func(e *Engine) { e.onFailure = fn }
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine creates and tracks playback sessions, at most one per source.
type Engine struct {
	backend   Backend
	clock     Clock
	checker   SourceChecker
	schedule  RetrySchedule
	onFailure func(*PermanentFailure)
	rec       Recorder
	log       zerolog.Logger

	startMu  sync.Mutex // serializes Start so two callers cannot race on one source
	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds an engine around backend.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		clock:    realClock{},
		checker:  SourceCheckerFunc(statExists),
		schedule: DefaultSchedule(),
		rec:      nopRecorder{},
		log:      log.WithComponent("engine"),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func statExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Start begins looping playback of src. Any live session on the same
// source is torn down first. If the backend cannot open a pipeline the
// error wraps ErrPipelineUnavailable and nothing is retried.
func (e *Engine) Start(ctx context.Context, src media.Source, opts StartOptions) (*Session, error) {
	if src.IsZero() {
		return nil, fmt.Errorf("start: empty source")
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	if prev := e.Session(src); prev != nil {
		e.log.Info().Str("source", src.Name()).Str("session", prev.id).Msg("replacing live session")
		prev.TearDown()
	}

	s := newSession(e, uuid.NewString(), src, opts)
	if err := s.open(ctx, ModeLoopingPrimary); err != nil {
		s.abandon()
		return nil, fmt.Errorf("start %s: %w: %w", src.Name(), ErrPipelineUnavailable, err)
	}
	e.rec.StateChanged("", s.state.String())
	s.publish()
	go s.run()

	e.mu.Lock()
	e.sessions[src.Path()] = s
	e.mu.Unlock()

	s.log.Info().
		Bool("muted", opts.Muted).
		Bool("paused", opts.Paused).
		Str("max_resolution", opts.MaxResolution.String()).
		Msg("playback started")
	return s, nil
}

// Session returns the live session for src, or nil.
func (e *Engine) Session(src media.Source) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[src.Path()]
}

// Sessions returns all live sessions.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// TearDownAll tears down every live session.
func (e *Engine) TearDownAll() {
	for _, s := range e.Sessions() {
		s.TearDown()
	}
	e.log.Info().Msg("all sessions released")
}

func (e *Engine) forget(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[s.src.Path()]; ok && cur == s {
		delete(e.sessions, s.src.Path())
	}
}

func (e *Engine) reportFailure(pf *PermanentFailure) {
	e.rec.PermanentFailure()
	if e.onFailure != nil {
		go e.onFailure(pf)
	}
}
