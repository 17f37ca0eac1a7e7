package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"livewall/internal/display"
	"livewall/internal/engine"
	"livewall/internal/library"
	"livewall/internal/media"
	"livewall/internal/report"
	"livewall/internal/state"
)

// player ties the engine to the library folder and the persisted state:
// it decides which source plays and moves on when one fails for good.
type player struct {
	ctx      context.Context
	eng      *engine.Engine
	lib      *library.Watcher
	targets  []*display.Target
	reporter *report.Client
	opts     engine.StartOptions
	log      zerolog.Logger

	mu      sync.Mutex
	st      *state.State
	session *engine.Session
}

// current returns the live session or nil.
func (p *player) current() *engine.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *player) snapshots() []engine.Snapshot {
	var out []engine.Snapshot
	for _, s := range p.eng.Sessions() {
		out = append(out, s.Snapshot())
	}
	return out
}

// resolve picks the first source: the argument, then the persisted
// source if it still exists, then the first file in the library.
func (p *player) resolve(arg string) string {
	if arg != "" {
		return arg
	}
	p.mu.Lock()
	last := p.st.Source()
	p.mu.Unlock()
	if last != "" && p.lib != nil && p.lib.Contains(last) {
		return last
	}
	if last != "" && p.lib == nil {
		return last
	}
	if p.lib != nil {
		if files := p.lib.Files(); len(files) > 0 {
			return files[0]
		}
	}
	return ""
}

// play starts path, replacing whatever was playing.
func (p *player) play(path string) error {
	src, err := media.NewSource(path)
	if err != nil {
		return err
	}

	if prev := p.current(); prev != nil && prev.Source() != src {
		prev.TearDown()
	}

	s, err := p.eng.Start(p.ctx, src, p.opts)
	if err != nil {
		return err
	}
	for _, t := range p.targets {
		if err := s.Attach(t); err != nil {
			p.log.Warn().Err(err).Str("display", t.ID()).Msg("attach failed")
		}
	}

	p.mu.Lock()
	p.session = s
	p.st.SetSource(src.Path())
	err = p.st.Save()
	p.mu.Unlock()
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to save state")
	}

	p.log.Info().Str("session", s.ID()).Str("source", src.Name()).Msg("playing")
	return nil
}

// playFrom tries candidates in library order starting after failed,
// giving each file one chance.
func (p *player) playFrom(failed string) error {
	if p.lib == nil {
		return fmt.Errorf("no library configured")
	}
	tried := map[string]bool{failed: true}
	cur := failed
	for range p.lib.Files() {
		next := p.lib.Next(cur)
		if next == "" || tried[next] {
			break
		}
		tried[next] = true
		if err := p.play(next); err != nil {
			p.log.Warn().Err(err).Str("source", next).Msg("candidate failed to start")
			cur = next
			continue
		}
		return nil
	}
	return fmt.Errorf("no playable source left in %s", p.lib.Dir())
}

// onPermanentFailure runs on its own goroutine, once per failed session.
func (p *player) onPermanentFailure(pf *engine.PermanentFailure) {
	p.log.Error().Err(pf).Str("session", pf.SessionID).Msg("source failed permanently")

	if p.reporter != nil {
		if err := p.reporter.ReportFailure(p.ctx, pf); err != nil {
			p.log.Warn().Err(err).Msg("failure report not delivered")
		}
	}

	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	stale := p.session == nil || p.session.ID() != pf.SessionID
	p.mu.Unlock()
	if stale {
		return
	}

	if err := p.playFrom(pf.Source.Path()); err != nil {
		p.log.Error().Err(err).Msg("nothing left to play")
		p.mu.Lock()
		p.session = nil
		p.mu.Unlock()
	}
}

// onLibraryChange reacts to the folder changing under the player.
func (p *player) onLibraryChange(files, removed []string) {
	s := p.current()
	if s == nil {
		if len(files) > 0 && p.ctx.Err() == nil {
			if err := p.play(files[0]); err != nil {
				p.log.Warn().Err(err).Msg("start after library change failed")
			}
		}
		return
	}

	playing := s.Source().Path()
	for _, r := range removed {
		if r != playing {
			continue
		}
		p.log.Warn().Str("source", s.Source().Name()).Msg("playing source removed from library")
		if err := s.ReportFault(engine.FaultItemFailed, engine.ErrSourceMissing); err != nil && !errors.Is(err, engine.ErrTornDown) {
			p.log.Warn().Err(err).Msg("report fault failed")
		}
		return
	}
}

// shutdown tears everything down and persists the mute flag.
func (p *player) shutdown() {
	if s := p.current(); s != nil {
		muted := s.Snapshot().Muted
		p.mu.Lock()
		p.st.Muted = muted
		err := p.st.Save()
		p.mu.Unlock()
		if err != nil {
			p.log.Warn().Err(err).Msg("failed to save state")
		}
	}
	p.eng.TearDownAll()
}
