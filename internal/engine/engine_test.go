package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livewall/internal/media"
)

func TestStartOpensLoopingPipeline(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{Muted: true, MaxResolution: media.Resolution{Width: 1920, Height: 1080}})

	require.Equal(t, 1, h.backend.count())
	p := h.backend.last()
	assert.Equal(t, ModeLoopingPrimary, p.req.Mode)
	assert.True(t, p.req.Muted)
	assert.Equal(t, 1920, p.req.MaxResolution.Width)
	assert.True(t, p.state().playing)

	flush(t, s)
	snap := s.Snapshot()
	assert.Equal(t, "looping-primary", snap.State)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, 1, snap.PipelinesCreated)
	assert.Same(t, s, h.engine.Session(h.src))
}

func TestStartFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.backend.openErr = func(int) error { return errors.New("no decoder") }

	s, err := h.engine.Start(context.Background(), h.src, StartOptions{})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrPipelineUnavailable))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.backend.calls)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Nil(t, h.engine.Session(h.src))
}

func TestStartFailureKeepsBackendError(t *testing.T) {
	h := newHarness(t)
	h.backend.openErr = func(int) error { return fmt.Errorf("spawn: %w", context.Canceled) }

	_, err := h.engine.Start(context.Background(), h.src, StartOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPipelineUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartRejectsEmptySource(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Start(context.Background(), media.Source{}, StartOptions{})
	require.Error(t, err)
}

func TestFaultsBelowMaxReturnToPrimary(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	assert.Equal(t, StateRetryPending, s.State())
	assert.Equal(t, 1, s.Snapshot().RetryCount)

	h.advance(s, 2*time.Second)
	assert.Equal(t, StateLoopingPrimary, s.State())
	assert.Equal(t, 2, h.backend.count())

	h.fault(s, FaultDecodeError)
	assert.Equal(t, StateRetryPending, s.State())

	h.advance(s, 3*time.Second)
	assert.Equal(t, StateRetryPending, s.State(), "second retry waits 4s")

	h.advance(s, time.Second)
	assert.Equal(t, StateLoopingPrimary, s.State())
	assert.Equal(t, 3, h.backend.count())
	assert.Equal(t, ModeLoopingPrimary, h.backend.last().req.Mode)
	assert.Equal(t, 2, s.Snapshot().RetryCount, "counter does not reset after a rebuild")
	assert.Empty(t, h.failures)
}

func TestThreeFaultsDowngradeToManualFallback(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	// Faults at t=0, t=2 and t=6 line up with the 2s/4s/6s schedule.
	h.fault(s, FaultStall)
	h.advance(s, 2*time.Second)
	h.fault(s, FaultItemFailed)
	h.advance(s, 4*time.Second)
	h.fault(s, FaultDecodeError)
	assert.Equal(t, StateRetryPending, s.State())

	h.advance(s, 6*time.Second)
	assert.Equal(t, StateManualFallback, s.State())
	assert.Equal(t, ModeManualFallback, h.backend.last().req.Mode)
	assert.Equal(t, 4, h.backend.count())

	h.rec.mu.Lock()
	assert.Equal(t, 1, h.rec.fallbacks)
	assert.Equal(t, []int{1, 2, 3}, h.rec.retries)
	assert.Equal(t, 0, h.rec.failures)
	h.rec.mu.Unlock()
	assert.Empty(t, h.failures)

	// A later fault rebuilds the manual loop, never the primary one.
	h.fault(s, FaultStall)
	assert.Equal(t, StateManualFallback, s.State())
	h.advance(s, 6*time.Second)
	assert.Equal(t, StateManualFallback, s.State())
	assert.Equal(t, 5, h.backend.count())
	assert.Equal(t, ModeManualFallback, h.backend.last().req.Mode)

	h.rec.mu.Lock()
	assert.Equal(t, 1, h.rec.fallbacks, "fallback is entered exactly once")
	h.rec.mu.Unlock()
}

func TestFaultWhileRetryPendingIsIgnored(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	first := h.backend.last()

	h.fault(s, FaultStall)
	require.Equal(t, StateRetryPending, s.State())

	// The dead pipeline's observer is detached and external faults have no
	// pipeline to act on.
	first.fault(FaultDecodeError)
	require.NoError(t, s.ReportFault(FaultItemFailed, nil))
	flush(t, s)

	assert.Equal(t, 1, s.Snapshot().RetryCount)
	assert.Equal(t, 1, h.clock.Pending(), "only one retry timer is live")

	h.advance(s, 2*time.Second)
	assert.Equal(t, StateLoopingPrimary, s.State())
	assert.Equal(t, 2, h.backend.count())
}

func TestStalePipelineEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	first := h.backend.last()

	h.fault(s, FaultStall)
	h.advance(s, 2*time.Second)
	require.Equal(t, StateLoopingPrimary, s.State())
	require.True(t, first.state().closed)

	first.fault(FaultStall)
	flush(t, s)
	assert.Equal(t, StateLoopingPrimary, s.State())
	assert.Equal(t, 1, s.Snapshot().RetryCount)
}

func TestTearDownCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	require.Equal(t, StateRetryPending, s.State())

	s.TearDown()
	assert.Equal(t, StateTornDown, s.State())
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.backend.count(), "no pipeline is created after teardown")
	assert.Nil(t, h.engine.Session(h.src))
}

func TestRetryTimerFiringAfterTearDownIsHarmless(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	h.fault(s, FaultStall)

	// Capture the timer callback as if it fired concurrently with TearDown.
	h.clock.mu.Lock()
	fire := h.clock.timers[0].fn
	h.clock.mu.Unlock()

	s.TearDown()
	fire()

	assert.Equal(t, 1, h.backend.count())
	assert.Equal(t, StateTornDown, s.State())
}

func TestTearDownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	p := h.backend.last()

	s.TearDown()
	s.TearDown()

	assert.True(t, p.state().closed)
	assert.ErrorIs(t, s.Pause(), ErrTornDown)
	assert.ErrorIs(t, s.ReportFault(FaultStall, nil), ErrTornDown)
	<-s.Done()
}

func TestSourceDeletedBeforeRetryFailsPermanently(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	h.exists.set(false)
	h.fault(s, FaultItemFailed)
	h.advance(s, 2*time.Second)

	assert.Equal(t, StateFailedPermanent, s.State())
	assert.Equal(t, 1, h.backend.count())

	select {
	case pf := <-h.failures:
		assert.ErrorIs(t, pf, ErrSourceMissing)
		assert.Equal(t, s.ID(), pf.SessionID)
		assert.Equal(t, h.src, pf.Source)
	case <-time.After(time.Second):
		t.Fatal("permanent failure callback did not fire")
	}

	require.NoError(t, s.ReportFault(FaultStall, nil))
	h.advance(s, time.Minute)
	assert.Equal(t, StateFailedPermanent, s.State())
	assert.Equal(t, 1, h.backend.count())
	assert.Empty(t, h.failures, "callback fires exactly once")
}

func TestSourceDeletedInFallbackFailsPermanently(t *testing.T) {
	h := newHarness(t)
	h.engine.schedule = NewSchedule(time.Second)
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	h.advance(s, time.Second)
	require.Equal(t, StateManualFallback, s.State())

	h.exists.set(false)
	h.fault(s, FaultStall)
	h.advance(s, time.Second)

	assert.Equal(t, StateFailedPermanent, s.State())
	select {
	case pf := <-h.failures:
		assert.ErrorIs(t, pf, ErrSourceMissing)
	case <-time.After(time.Second):
		t.Fatal("permanent failure callback did not fire")
	}
}

func TestPauseResumeAreIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	p := h.backend.last()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, 1, p.state().pauses)
	assert.True(t, s.Snapshot().Paused)
	assert.Equal(t, StateLoopingPrimary, s.State())

	require.NoError(t, s.Resume())
	require.NoError(t, s.Resume())
	assert.Equal(t, 2, p.state().pauses)
	assert.False(t, s.Snapshot().Paused)
}

func TestPauseKeepsRetryCountAndRebuildsPaused(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	require.NoError(t, s.Pause())
	h.advance(s, 2*time.Second)

	p := h.backend.last()
	assert.True(t, p.req.Paused)
	assert.Equal(t, 0, p.state().plays, "a paused rebuild does not start playing")
	assert.Equal(t, 1, s.Snapshot().RetryCount)

	require.NoError(t, s.Resume())
	assert.True(t, p.state().playing)
}

func TestSetMuted(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	p := h.backend.last()

	require.NoError(t, s.SetMuted(true))
	assert.True(t, p.state().muted)
	assert.Equal(t, 0, p.state().seeks)

	h.fault(s, FaultStall)
	h.advance(s, 2*time.Second)
	assert.True(t, h.backend.last().req.Muted, "rebuilt pipeline keeps mute")
}

func TestManualFallbackRestartsOnEndOfMedia(t *testing.T) {
	h := newHarness(t)
	h.engine.schedule = NewSchedule(time.Second)
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	h.advance(s, time.Second)
	require.Equal(t, StateManualFallback, s.State())

	p := h.backend.last()
	p.emit(EndOfMediaEvent())
	p.emit(EndOfMediaEvent())
	flush(t, s)

	st := p.state()
	assert.Equal(t, 2, st.seeks)
	assert.Equal(t, 3, st.plays)
	assert.Equal(t, StateManualFallback, s.State())
}

func TestEndOfMediaIgnoredWhileNativelyLooping(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})
	p := h.backend.last()

	p.emit(EndOfMediaEvent())
	flush(t, s)

	assert.Equal(t, 0, p.state().seeks)
	assert.Equal(t, StateLoopingPrimary, s.State())
}

func TestEmptyScheduleFallsBackOnFirstFault(t *testing.T) {
	h := newHarness(t)
	h.engine.schedule = NewSchedule()
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	assert.Equal(t, StateManualFallback, s.State())
	assert.Equal(t, ModeManualFallback, h.backend.last().req.Mode)
}

func TestRebuildOpenFailureCountsAsFault(t *testing.T) {
	h := newHarness(t)
	h.backend.openErr = func(call int) error {
		if call == 2 {
			return errors.New("decoder busy")
		}
		return nil
	}
	s := h.start(StartOptions{})

	h.fault(s, FaultStall)
	h.advance(s, 2*time.Second)
	assert.Equal(t, StateRetryPending, s.State())
	assert.Equal(t, 2, s.Snapshot().RetryCount)

	h.advance(s, 4*time.Second)
	assert.Equal(t, StateLoopingPrimary, s.State())
	assert.Equal(t, 2, h.backend.count())
}

func TestRenderTargetsFollowRebuilds(t *testing.T) {
	h := newHarness(t)
	s := h.start(StartOptions{})

	main := &fakeTarget{id: "display-1"}
	side := &fakeTarget{id: "display-2"}
	require.NoError(t, s.Attach(main))
	require.NoError(t, s.Attach(side))

	first := h.backend.last()
	assert.Same(t, first, main.pipeline())
	assert.Same(t, first, side.pipeline())

	h.fault(s, FaultStall)
	assert.Nil(t, main.pipeline(), "targets detach with the dead pipeline")

	h.advance(s, 2*time.Second)
	second := h.backend.last()
	assert.Same(t, second, main.pipeline())
	assert.Same(t, second, side.pipeline())
	assert.ElementsMatch(t, []string{"display-1", "display-2"}, s.Snapshot().Targets)

	require.NoError(t, s.Detach("display-2"))
	assert.Nil(t, side.pipeline())

	s.TearDown()
	assert.Nil(t, main.pipeline())
}

func TestStartReplacesLiveSessionOnSameSource(t *testing.T) {
	h := newHarness(t)
	first := h.start(StartOptions{})
	firstPipeline := h.backend.last()

	second := h.start(StartOptions{})

	<-first.Done()
	assert.True(t, firstPipeline.state().closed)
	assert.Equal(t, StateTornDown, first.State())
	assert.Same(t, second, h.engine.Session(h.src))
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestSessionsOnDifferentSourcesCoexist(t *testing.T) {
	h := newHarness(t)
	a := h.start(StartOptions{})

	other, err := media.NewSource("/videos/city.mp4")
	require.NoError(t, err)
	b, err := h.engine.Start(context.Background(), other, StartOptions{})
	require.NoError(t, err)

	assert.Len(t, h.engine.Sessions(), 2)
	a.TearDown()
	assert.Len(t, h.engine.Sessions(), 1)
	assert.Same(t, b, h.engine.Session(other))
}
