package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livewall/internal/media"
)

// Session is the live playback state for one source. All transitions run
// on the session's actor goroutine; public methods post to it.
type Session struct {
	id   string
	src  media.Source
	eng  *Engine
	log  zerolog.Logger
	mbox *mailbox
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the actor goroutine.
	state          State
	mode           Mode
	retries        int
	paused         bool
	muted          bool
	maxRes         media.Resolution
	gen            uint64
	pipeline       Pipeline
	obs            *observer
	timer          Timer
	timerToken     uint64
	rebuildPending bool
	targets        []RenderTarget
	created        int
	lastFault      string
	failed         bool
	startedAt      time.Time

	snapMu   sync.RWMutex
	snap     Snapshot
	pubState State
}

func newSession(e *Engine, id string, src media.Source, opts StartOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		src:       src,
		eng:       e,
		log:       e.log.With().Str("session", id[:8]).Str("source", src.Name()).Logger(),
		mbox:      newMailbox(),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateLoopingPrimary,
		mode:      ModeLoopingPrimary,
		paused:    opts.Paused,
		muted:     opts.Muted,
		maxRes:    opts.MaxResolution,
		startedAt: e.clock.Now(),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Source returns the source this session plays.
func (s *Session) Source() media.Source { return s.src }

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.pubState
}

// Snapshot returns a copy of the session's published state.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	snap := s.snap
	snap.Targets = append([]string(nil), s.snap.Targets...)
	return snap
}

// SetMuted toggles audio without touching playback position.
func (s *Session) SetMuted(muted bool) error {
	return s.call(func() {
		if s.muted == muted {
			return
		}
		s.muted = muted
		if s.pipeline != nil {
			if err := s.pipeline.SetMuted(muted); err != nil {
				s.log.Warn().Err(err).Bool("muted", muted).Msg("set muted failed")
			}
		}
	})
}

// Pause suspends playback. Pausing a paused session is a no-op; retry
// count and mode are untouched.
func (s *Session) Pause() error {
	return s.call(func() { s.setPaused(true) })
}

// Resume undoes Pause. Resuming a playing session is a no-op.
func (s *Session) Resume() error {
	return s.call(func() { s.setPaused(false) })
}

func (s *Session) setPaused(paused bool) {
	if s.paused == paused {
		return
	}
	s.paused = paused
	if s.pipeline != nil {
		if err := s.pipeline.SetPaused(paused); err != nil {
			s.log.Warn().Err(err).Bool("paused", paused).Msg("set paused failed")
		}
	}
	s.log.Info().Bool("paused", paused).Msg("pause state changed")
}

// ReportFault injects a fault from outside the pipeline, e.g. a watcher
// that saw the source file disappear. It is handled like a pipeline fault.
func (s *Session) ReportFault(kind FaultKind, err error) error {
	return s.post(func() {
		if s.pipeline == nil {
			s.log.Debug().Str("fault", kind.String()).Str("state", s.state.String()).Msg("external fault ignored: no pipeline")
			return
		}
		s.handleFault(kind, err)
	})
}

// Attach adds a render target. Targets share the session's one pipeline
// and are moved onto every rebuilt pipeline.
func (s *Session) Attach(t RenderTarget) error {
	return s.call(func() {
		for i, cur := range s.targets {
			if cur.ID() == t.ID() {
				cur.Detach()
				s.targets = append(s.targets[:i], s.targets[i+1:]...)
				break
			}
		}
		s.targets = append(s.targets, t)
		if s.pipeline != nil {
			s.attachTarget(t)
		}
	})
}

// Detach removes a render target by id.
func (s *Session) Detach(id string) error {
	return s.call(func() {
		for i, cur := range s.targets {
			if cur.ID() == id {
				cur.Detach()
				s.targets = append(s.targets[:i], s.targets[i+1:]...)
				return
			}
		}
	})
}

// TearDown releases the pipeline, observers, timers and target
// attachments. It is safe from any state and any number of times; the
// session cannot be reused afterwards.
func (s *Session) TearDown() {
	_ = s.call(s.tearDown)
	<-s.done
	s.eng.forget(s)
}

// --- actor plumbing ---

func (s *Session) post(fn func()) error {
	if !s.mbox.post(fn) {
		return ErrTornDown
	}
	return nil
}

// call runs fn on the actor and waits until it has run and its effects
// are visible through Snapshot.
func (s *Session) call(fn func()) error {
	reply := make(chan struct{})
	if err := s.post(func() {
		fn()
		s.publish()
		close(reply)
	}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		select {
		case <-reply:
			return nil
		default:
			return ErrTornDown
		}
	}
}

func (s *Session) run() {
	for range s.mbox.signal {
		for _, fn := range s.mbox.drain() {
			fn()
			if s.state == StateTornDown {
				break
			}
		}
		s.publish()
		if s.state == StateTornDown {
			close(s.done)
			return
		}
	}
}

func (s *Session) publish() {
	targets := make([]string, 0, len(s.targets))
	for _, t := range s.targets {
		targets = append(targets, t.ID())
	}
	snap := Snapshot{
		ID:               s.id,
		Source:           s.src.Path(),
		State:            s.state.String(),
		Mode:             s.mode.String(),
		RetryCount:       s.retries,
		Paused:           s.paused,
		Muted:            s.muted,
		PipelinesCreated: s.created,
		Targets:          targets,
		StartedAt:        s.startedAt,
		LastFault:        s.lastFault,
	}
	s.snapMu.Lock()
	s.snap = snap
	s.pubState = s.state
	s.snapMu.Unlock()
}

// abandon releases a session whose first pipeline never opened.
func (s *Session) abandon() {
	s.cancel()
	s.mbox.close()
	s.state = StateTornDown
	s.publish()
	close(s.done)
}

// --- state machine (actor only) ---

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.eng.rec.StateChanged(from.String(), to.String())
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state transition")
}

// open builds a fresh pipeline in the given mode. The previous pipeline
// must already be closed.
func (s *Session) open(ctx context.Context, mode Mode) error {
	s.gen++
	gen := s.gen
	obs := newObserver(gen, func(g uint64, ev Event) {
		s.mbox.post(func() { s.handleEvent(g, ev) })
	})

	p, err := s.eng.backend.Open(ctx, OpenRequest{
		Source:        s.src,
		Mode:          mode,
		Muted:         s.muted,
		Paused:        s.paused,
		MaxResolution: s.maxRes,
		Observer:      obs,
	})
	if err != nil {
		obs.detach()
		return err
	}
	if !s.paused {
		if err := p.Play(); err != nil {
			obs.detach()
			_ = p.Close()
			return fmt.Errorf("play: %w", err)
		}
	}

	s.pipeline = p
	s.obs = obs
	s.mode = mode
	s.created++
	s.eng.rec.PipelineOpened(mode.String())
	for _, t := range s.targets {
		s.attachTarget(t)
	}
	s.log.Info().Str("mode", mode.String()).Uint64("generation", gen).Msg("pipeline opened")
	return nil
}

func (s *Session) attachTarget(t RenderTarget) {
	if err := t.Attach(s.pipeline); err != nil {
		s.log.Warn().Err(err).Str("target", t.ID()).Msg("render target attach failed")
	}
}

// closePipeline detaches the observer before anything else so a dying
// pipeline cannot deliver events against its successor.
func (s *Session) closePipeline() {
	if s.obs != nil {
		s.obs.detach()
		s.obs = nil
	}
	if s.pipeline == nil {
		return
	}
	for _, t := range s.targets {
		t.Detach()
	}
	if err := s.pipeline.Close(); err != nil {
		s.log.Warn().Err(err).Msg("pipeline close failed")
	}
	s.pipeline = nil
}

func (s *Session) handleEvent(gen uint64, ev Event) {
	if gen != s.gen || s.pipeline == nil {
		s.log.Debug().Uint64("generation", gen).Msg("dropping event from stale pipeline")
		return
	}
	if ev.EndOfMedia {
		s.handleEndOfMedia()
		return
	}
	s.handleFault(ev.Fault, ev.Err)
}

func (s *Session) handleEndOfMedia() {
	if s.state != StateManualFallback {
		// The native loop restarts on its own.
		return
	}
	if err := s.pipeline.SeekToStart(); err != nil {
		s.handleFault(FaultItemFailed, fmt.Errorf("seek to start: %w", err))
		return
	}
	if !s.paused {
		if err := s.pipeline.Play(); err != nil {
			s.handleFault(FaultItemFailed, fmt.Errorf("replay: %w", err))
			return
		}
	}
	s.log.Debug().Msg("manual loop restarted")
}

func (s *Session) handleFault(kind FaultKind, err error) {
	s.lastFault = kind.String()
	s.eng.rec.FaultObserved(kind.String())
	ev := s.log.Warn().Str("fault", kind.String()).Str("state", s.state.String())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("pipeline fault")

	switch s.state {
	case StateLoopingPrimary:
		sched := s.eng.schedule
		if s.retries >= sched.MaxAttempts() {
			s.closePipeline()
			s.setState(StateManualFallback)
			s.eng.rec.FallbackEntered()
			s.rebuildFallback()
			return
		}
		s.retries++
		delay := sched.Delay(s.retries)
		s.closePipeline()
		s.setState(StateRetryPending)
		s.eng.rec.RetryScheduled(s.retries)
		s.log.Info().Int("attempt", s.retries).Dur("delay", delay).Msg("rebuild scheduled")
		s.schedule(delay, s.retryFired)

	case StateManualFallback:
		if s.rebuildPending {
			return
		}
		s.closePipeline()
		s.rebuildPending = true
		s.schedule(s.eng.schedule.Last(), s.fallbackRebuildFired)

	default:
		// RETRY_PENDING already has a live timer; terminal states ignore faults.
	}
}

// schedule arms the session's single timer. The callback only acts if its
// token is still current and the session is alive.
func (s *Session) schedule(d time.Duration, fn func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerToken++
	token := s.timerToken
	s.timer = s.eng.clock.AfterFunc(d, func() {
		s.mbox.post(func() {
			if token != s.timerToken || s.state == StateTornDown {
				return
			}
			s.timer = nil
			fn()
		})
	})
}

func (s *Session) retryFired() {
	if s.state != StateRetryPending {
		return
	}
	if !s.eng.checker.Exists(s.src.Path()) {
		s.fail(ErrSourceMissing)
		return
	}

	if s.retries >= s.eng.schedule.MaxAttempts() {
		s.setState(StateManualFallback)
		s.eng.rec.FallbackEntered()
		s.log.Warn().Int("attempts", s.retries).Msg("retries exhausted, switching to manual loop")
		s.rebuildFallback()
		return
	}

	if err := s.open(s.ctx, ModeLoopingPrimary); err != nil {
		s.setState(StateLoopingPrimary)
		s.handleFault(FaultItemFailed, fmt.Errorf("rebuild: %w", err))
		return
	}
	s.setState(StateLoopingPrimary)
}

func (s *Session) fallbackRebuildFired() {
	s.rebuildPending = false
	if s.state != StateManualFallback {
		return
	}
	s.rebuildFallback()
}

// rebuildFallback opens a manual-loop pipeline, checking the source
// first. A failed open is retried after the longest schedule delay.
func (s *Session) rebuildFallback() {
	if !s.eng.checker.Exists(s.src.Path()) {
		s.fail(ErrSourceMissing)
		return
	}
	if err := s.open(s.ctx, ModeManualFallback); err != nil {
		s.log.Warn().Err(err).Msg("manual loop rebuild failed")
		s.rebuildPending = true
		s.schedule(s.eng.schedule.Last(), s.fallbackRebuildFired)
	}
}

func (s *Session) fail(reason error) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerToken++
	s.rebuildPending = false
	s.closePipeline()
	s.setState(StateFailedPermanent)
	s.log.Error().Err(reason).Msg("playback failed permanently")

	if s.failed {
		return
	}
	s.failed = true
	s.eng.reportFailure(&PermanentFailure{SessionID: s.id, Source: s.src, Reason: reason})
}

func (s *Session) tearDown() {
	if s.state == StateTornDown {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerToken++
	s.closePipeline()
	s.targets = nil
	s.cancel()
	s.mbox.close()
	s.setState(StateTornDown)
	s.log.Info().Int("pipelines", s.created).Msg("session torn down")
}
