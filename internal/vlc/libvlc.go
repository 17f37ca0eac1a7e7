//go:build libvlc

// In-process backend: CGO bindings to libVLC. Primary pipelines use a
// ListPlayer in Loop mode; manual-fallback pipelines use a plain Player
// and report MediaPlayerEndReached as end-of-media.
package vlc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	libvlc "github.com/adrg/libvlc-go/v3"
	"github.com/rs/zerolog"

	"livewall/internal/engine"
	"livewall/internal/log"
)

var (
	vlcInitOnce sync.Once
	vlcInitErr  error
)

type libvlcBackend struct {
	cfg Config
	log zerolog.Logger
}

func newBackend(cfg Config) (engine.Backend, error) {
	vlcInitOnce.Do(func() {
		flags := []string{
			"--no-osd",
			"--no-video-title-show",
			"--no-spu",
			"--avcodec-hw=any",
			"--file-caching=" + strconv.Itoa(fileCachingMs),
			"--clock-jitter=0",
			"--deinterlace=0",
			"--fullscreen",
			"--quiet",
		}
		flags = append(flags, cfg.ExtraArgs...)
		vlcInitErr = libvlc.Init(flags...)
	})
	if vlcInitErr != nil {
		return nil, fmt.Errorf("libvlc init failed: %w", vlcInitErr)
	}

	b := &libvlcBackend{cfg: cfg, log: log.WithComponent("libvlc")}
	b.log.Info().Msg("in-process backend ready")
	return b, nil
}

func (b *libvlcBackend) Open(ctx context.Context, req engine.OpenRequest) (engine.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &libvlcPipeline{
		cfg:   b.cfg,
		log:   b.log.With().Str("source", req.Source.Name()).Logger(),
		req:   req,
		stop:  make(chan struct{}),
		track: newTracker(engine.ModeLoopingPrimary, b.cfg.StallTimeout, time.Now()),
	}
	if err := p.build(); err != nil {
		p.release()
		return nil, err
	}

	go p.watch()
	p.log.Info().Str("mode", req.Mode.String()).Msg("libvlc pipeline opened")
	return p, nil
}

type libvlcPipeline struct {
	cfg Config
	log zerolog.Logger
	req engine.OpenRequest

	mu         sync.Mutex
	listPlayer *libvlc.ListPlayer
	mediaList  *libvlc.MediaList
	player     *libvlc.Player
	media      *libvlc.Media
	events     *libvlc.EventManager
	eventIDs   []libvlc.EventID
	detached   bool

	stop      chan struct{}
	closeOnce sync.Once
	track     *tracker
}

func (p *libvlcPipeline) newMedia() (*libvlc.Media, error) {
	m, err := libvlc.NewMediaFromPath(p.req.Source.Path())
	if err != nil {
		return nil, fmt.Errorf("media %s: %w", p.req.Source.Name(), err)
	}
	if !p.req.MaxResolution.IsZero() {
		if err := m.AddOptions(":preferred-resolution=" + strconv.Itoa(p.req.MaxResolution.Height)); err != nil {
			p.log.Debug().Err(err).Msg("resolution hint rejected")
		}
	}
	return m, nil
}

func (p *libvlcPipeline) build() error {
	if p.req.Mode == engine.ModeLoopingPrimary {
		lp, err := libvlc.NewListPlayer()
		if err != nil {
			return fmt.Errorf("list player creation failed: %w", err)
		}
		p.listPlayer = lp

		list, err := libvlc.NewMediaList()
		if err != nil {
			return fmt.Errorf("media list creation failed: %w", err)
		}
		p.mediaList = list

		m, err := p.newMedia()
		if err != nil {
			return err
		}
		if err := list.AddMedia(m); err != nil {
			m.Release()
			return fmt.Errorf("add media: %w", err)
		}
		if err := lp.SetMediaList(list); err != nil {
			return fmt.Errorf("set media list failed: %w", err)
		}
		if err := lp.SetPlaybackMode(libvlc.Loop); err != nil {
			return fmt.Errorf("set loop mode: %w", err)
		}
		player, err := lp.Player()
		if err != nil {
			return fmt.Errorf("list player: %w", err)
		}
		p.player = player
	} else {
		player, err := libvlc.NewPlayer()
		if err != nil {
			return fmt.Errorf("player creation failed: %w", err)
		}
		p.player = player

		m, err := p.newMedia()
		if err != nil {
			return err
		}
		p.media = m
		if err := player.SetMedia(m); err != nil {
			return fmt.Errorf("set media: %w", err)
		}
	}

	em, err := p.player.EventManager()
	if err != nil {
		return fmt.Errorf("event manager: %w", err)
	}
	p.events = em

	onError, err := em.Attach(libvlc.MediaPlayerEncounteredError, func(libvlc.Event, interface{}) {
		p.notify(engine.FaultEvent(engine.FaultDecodeError, errors.New("libvlc: encountered error")))
	}, nil)
	if err != nil {
		return fmt.Errorf("attach error event: %w", err)
	}
	p.eventIDs = append(p.eventIDs, onError)

	if p.req.Mode == engine.ModeManualFallback {
		onEnd, err := em.Attach(libvlc.MediaPlayerEndReached, func(libvlc.Event, interface{}) {
			p.notify(engine.EndOfMediaEvent())
		}, nil)
		if err != nil {
			return fmt.Errorf("attach end event: %w", err)
		}
		p.eventIDs = append(p.eventIDs, onEnd)
	}

	if err := p.player.SetMute(p.req.Muted); err != nil {
		p.log.Debug().Err(err).Msg("initial mute failed")
	}
	p.track.setPaused(p.req.Paused)
	return nil
}

// notify forwards an event unless the pipeline is closing. It runs on a
// libVLC thread and must not call back into libVLC.
func (p *libvlcPipeline) notify(ev engine.Event) {
	p.mu.Lock()
	detached := p.detached
	p.mu.Unlock()
	if !detached {
		p.req.Observer.Notify(ev)
	}
}

func (p *libvlcPipeline) Play() error {
	p.track.setPaused(false)
	if p.listPlayer != nil {
		return p.listPlayer.Play()
	}
	return p.player.Play()
}

func (p *libvlcPipeline) SetPaused(paused bool) error {
	p.track.setPaused(paused)
	if !paused && !p.player.IsPlaying() {
		return p.Play()
	}
	return p.player.SetPause(paused)
}

func (p *libvlcPipeline) SetMuted(muted bool) error {
	return p.player.SetMute(muted)
}

// SeekToStart stops the ended player; the following Play starts at zero.
func (p *libvlcPipeline) SeekToStart() error {
	p.track.rewound(time.Now())
	return p.player.Stop()
}

func (p *libvlcPipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.release()
		p.log.Info().Msg("libvlc pipeline released")
	})
	return nil
}

func (p *libvlcPipeline) release() {
	p.mu.Lock()
	p.detached = true
	events, ids := p.events, p.eventIDs
	lp, player, list, m := p.listPlayer, p.player, p.mediaList, p.media
	p.events, p.eventIDs = nil, nil
	p.listPlayer, p.player, p.mediaList, p.media = nil, nil, nil, nil
	p.mu.Unlock()

	if events != nil && len(ids) > 0 {
		events.Detach(ids...)
	}
	if lp != nil {
		_ = lp.Stop()
		_ = lp.Release()
	} else if player != nil {
		_ = player.Stop()
		_ = player.Release()
	}
	if list != nil {
		_ = list.Release()
	}
	if m != nil {
		_ = m.Release()
	}
}

// watch feeds playback progress to the stall tracker.
func (p *libvlcPipeline) watch() {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			player := p.player
			p.mu.Unlock()
			if player == nil {
				return
			}
			ms, err := player.MediaTime()
			st := status{reachable: err == nil, playing: player.IsPlaying(), position: ms / 1000}
			if p.track.observe(now, st) == verdictStall {
				p.notify(engine.FaultEvent(engine.FaultStall, fmt.Errorf("no progress for %s", p.cfg.StallTimeout)))
			}
		}
	}
}
