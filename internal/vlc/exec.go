package vlc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livewall/internal/engine"
	"livewall/internal/log"
)

// ExecBackend runs one VLC process per pipeline.
type ExecBackend struct {
	cfg Config
	log zerolog.Logger
}

// NewExecBackend resolves the VLC binary and returns a subprocess backend.
func NewExecBackend(cfg Config) (*ExecBackend, error) {
	cfg.applyDefaults()
	if cfg.Path == "" {
		path, err := Find()
		if err != nil {
			return nil, err
		}
		cfg.Path = path
	}
	b := &ExecBackend{cfg: cfg, log: log.WithComponent("vlc")}
	b.log.Info().Str("binary", cfg.Path).Dur("stall_timeout", cfg.StallTimeout).Msg("subprocess backend ready")
	return b, nil
}

// Open spawns VLC for req.Source. It returns once the process is running;
// buffering continues in the background.
func (b *ExecBackend) Open(ctx context.Context, req engine.OpenRequest) (engine.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ep, err := newEndpoint(b.cfg.SocketDir)
	if err != nil {
		return nil, err
	}
	args := buildArgs(runtime.GOOS, req, ep, b.cfg.ExtraArgs)

	cmd := exec.Command(b.cfg.Path, args...)
	stderr, stderrW := io.Pipe()
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		_ = stderrW.Close()
		return nil, fmt.Errorf("vlc start failed: %w", err)
	}

	p := &execPipeline{
		cfg:    b.cfg,
		log:    b.log.With().Str("source", req.Source.Name()).Int("pid", cmd.Process.Pid).Logger(),
		req:    req,
		cmd:    cmd,
		ep:     ep,
		rc:     &rcClient{ep: ep},
		paused: req.Paused,
		fresh:  true,
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
		track:  newTracker(req.Mode, b.cfg.StallTimeout, time.Now()),
	}
	p.wantMuted.Store(req.Muted)

	go p.wait(stderrW)
	go p.scanStderr(stderr)
	go p.monitor()

	p.log.Info().Str("mode", req.Mode.String()).Msg("vlc spawned")
	return p, nil
}

const (
	maxStderrLine    = 1 << 20
	closeWaitTimeout = 5 * time.Second
)

var decoderErrorPattern = regexp.MustCompile(`(?i)(decoder error|cannot decode|no suitable decoder|corrupt(ed)? (frame|stream)|could not decode)`)

type execPipeline struct {
	cfg Config
	log zerolog.Logger
	req engine.OpenRequest
	cmd *exec.Cmd
	ep  endpoint
	rc  *rcClient

	mu     sync.Mutex
	paused bool
	fresh  bool // spawned and not yet told to Play

	wantMuted atomic.Bool
	muteSent  atomic.Bool
	faulted   atomic.Bool

	exited    chan struct{}
	stop      chan struct{}
	closeOnce sync.Once

	track *tracker
}

// Play starts or restarts playback. The first call after spawn is a no-op
// because VLC starts playing on its own unless opened paused.
func (p *execPipeline) Play() error {
	p.mu.Lock()
	fresh := p.fresh
	p.fresh = false
	p.paused = false
	p.mu.Unlock()

	p.track.setPaused(false)
	if fresh && !p.req.Paused {
		return nil
	}
	return p.rc.control("play")
}

func (p *execPipeline) SetPaused(paused bool) error {
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = paused
	p.fresh = false
	p.mu.Unlock()

	p.track.setPaused(paused)
	if paused {
		return p.rc.control("pause")
	}
	return p.rc.control("play")
}

func (p *execPipeline) SetMuted(muted bool) error {
	p.wantMuted.Store(muted)
	return p.applyVolume()
}

func (p *execPipeline) applyVolume() error {
	vol := p.cfg.Volume
	if p.wantMuted.Load() {
		vol = 0
	}
	if err := p.rc.control("volume " + strconv.Itoa(vol)); err != nil {
		return err
	}
	p.muteSent.Store(true)
	return nil
}

func (p *execPipeline) SeekToStart() error {
	p.track.rewound(time.Now())
	return p.rc.control("seek 0")
}

// Close stops the monitor, kills VLC and removes the rc socket. Safe to
// call more than once.
func (p *execPipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		select {
		case <-p.exited:
		case <-time.After(closeWaitTimeout):
			p.log.Warn().Dur("timeout", closeWaitTimeout).Msg("vlc did not exit after kill")
		}
		if p.ep.network == "unix" {
			_ = os.Remove(p.ep.addr)
		}
		p.log.Info().Msg("vlc stopped")
	})
	return nil
}

func (p *execPipeline) closing() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// fault reports at most one fault per pipeline; the session replaces the
// pipeline after the first one.
func (p *execPipeline) fault(kind engine.FaultKind, err error) {
	if p.closing() || !p.faulted.CompareAndSwap(false, true) {
		return
	}
	p.log.Warn().Err(err).Str("fault", kind.String()).Msg("vlc fault")
	p.req.Observer.Notify(engine.FaultEvent(kind, err))
}

func (p *execPipeline) wait(stderr io.Closer) {
	err := p.cmd.Wait()
	_ = stderr.Close()
	close(p.exited)
	if err == nil {
		err = errors.New("vlc exited")
	}
	p.fault(engine.FaultItemFailed, fmt.Errorf("process exit: %w", err))
}

// scanStderr reads stderr until VLC exits. It must keep reading even
// after the scanner gives up, or VLC blocks on a full pipe and never exits.
func (p *execPipeline) scanStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for sc.Scan() {
		line := sc.Text()
		p.log.Debug().Str("line", line).Msg("vlc stderr")
		if decoderErrorPattern.MatchString(line) {
			p.fault(engine.FaultDecodeError, errors.New(line))
		}
	}
	if err := sc.Err(); err != nil {
		p.log.Debug().Err(err).Msg("stderr scan stopped, discarding the rest")
	}
	_, _ = io.Copy(io.Discard, r)
}

func (p *execPipeline) monitor() {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.exited:
			return
		case now := <-ticker.C:
			if p.req.Muted && !p.muteSent.Load() {
				if err := p.applyVolume(); err != nil {
					p.log.Debug().Err(err).Msg("initial mute pending")
				}
			}

			playing, perr := p.rc.queryInt("is_playing")
			pos, terr := p.rc.queryInt("get_time")
			st := status{reachable: perr == nil && terr == nil, playing: playing == 1, position: pos}

			switch p.track.observe(now, st) {
			case verdictStall:
				p.fault(engine.FaultStall, fmt.Errorf("no progress for %s", p.cfg.StallTimeout))
			case verdictEndOfMedia:
				if !p.closing() {
					p.req.Observer.Notify(engine.EndOfMediaEvent())
				}
			}
		}
	}
}

// status is one rc poll result.
type status struct {
	reachable bool
	playing   bool
	position  int // seconds
}

type verdict int

const (
	verdictNone verdict = iota
	verdictStall
	verdictEndOfMedia
)

// tracker turns rc polls into stall and end-of-media verdicts.
type tracker struct {
	mu           sync.Mutex
	mode         engine.Mode
	stallTimeout time.Duration
	paused       bool
	lastPos      int
	lastProgress time.Time
	hadProgress  bool
	ended        bool
}

func newTracker(mode engine.Mode, stallTimeout time.Duration, now time.Time) *tracker {
	return &tracker{mode: mode, stallTimeout: stallTimeout, lastPos: -1, lastProgress: now}
}

func (t *tracker) setPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

// rewound resets progress tracking after a seek to the start.
func (t *tracker) rewound(now time.Time) {
	t.mu.Lock()
	t.lastPos = -1
	t.lastProgress = now
	t.mu.Unlock()
}

func (t *tracker) observe(now time.Time, st status) verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paused {
		t.lastProgress = now
		return verdictNone
	}

	if st.reachable && st.playing {
		t.ended = false
		if st.position != t.lastPos {
			t.lastPos = st.position
			t.lastProgress = now
			t.hadProgress = true
			return verdictNone
		}
	}

	if st.reachable && !st.playing && t.mode == engine.ModeManualFallback && t.hadProgress && !t.ended {
		t.ended = true
		t.lastProgress = now
		return verdictEndOfMedia
	}

	if now.Sub(t.lastProgress) >= t.stallTimeout {
		t.lastProgress = now
		return verdictStall
	}
	return verdictNone
}
