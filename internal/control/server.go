// Package control serves the local HTTP API used to inspect and steer the
// running session: status, pause/resume, mute and metrics.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"livewall/internal/engine"
	"livewall/internal/log"
)

const shutdownTimeout = 5 * time.Second

// SessionFunc returns the live session, or nil when nothing is playing.
type SessionFunc func() *engine.Session

// Handler exposes control endpoints using go-chi.
type Handler struct {
	current SessionFunc
	metrics http.Handler
	log     zerolog.Logger
}

// NewHandler returns a Handler. metrics may be nil to disable /metrics.
func NewHandler(current SessionFunc, metrics http.Handler) *Handler {
	return &Handler{
		current: current,
		metrics: metrics,
		log:     log.WithComponent("control"),
	}
}

// Router builds the chi router for the handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/status", h.Status)
	r.Post("/pause", h.Pause)
	r.Post("/resume", h.Resume)
	r.Post("/mute", h.Mute)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	s := h.live(w)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Pause handles POST /pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.apply(w, func(s *engine.Session) error { return s.Pause() })
}

// Resume handles POST /resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, func(s *engine.Session) error { return s.Resume() })
}

// Mute handles POST /mute?on=true|false.
func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "query parameter on must be true or false")
		return
	}
	h.apply(w, func(s *engine.Session) error { return s.SetMuted(on) })
}

func (h *Handler) apply(w http.ResponseWriter, fn func(*engine.Session) error) {
	s := h.live(w)
	if s == nil {
		return
	}
	if err := fn(s); err != nil {
		if errors.Is(err, engine.ErrTornDown) {
			writeError(w, http.StatusConflict, "session is torn down")
			return
		}
		h.log.Error().Err(err).Str("session", s.ID()).Msg("control action failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) live(w http.ResponseWriter) *engine.Session {
	s := h.current()
	if s == nil || s.State() == engine.StateTornDown {
		writeError(w, http.StatusConflict, "no live session")
		return nil
	}
	return s
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, handler)
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	logger := log.WithComponent("control")
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("control API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("control API stopped")
	return nil
}
