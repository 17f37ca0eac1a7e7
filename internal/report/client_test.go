package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livewall/internal/engine"
	"livewall/internal/media"
)

type recordingServer struct {
	mu         sync.Mutex
	heartbeats []Heartbeat
	failures   []Failure
	status     int
}

func (r *recordingServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var hb Heartbeat
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&hb))
		r.mu.Lock()
		r.heartbeats = append(r.heartbeats, hb)
		status := r.status
		r.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	})
	mux.HandleFunc("/failure", func(w http.ResponseWriter, req *http.Request) {
		var f Failure
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&f))
		r.mu.Lock()
		r.failures = append(r.failures, f)
		r.mu.Unlock()
	})
	return mux
}

func (r *recordingServer) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heartbeats)
}

func TestNewClientRequiresEndpointAndID(t *testing.T) {
	_, err := NewClient(Config{ID: "a"}, "dev", nil)
	assert.Error(t, err)
	_, err = NewClient(Config{Endpoint: "http://x"}, "dev", nil)
	assert.Error(t, err)
}

func TestSendHeartbeatIncludesSessions(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	snaps := []engine.Snapshot{{ID: "s1", Source: "/videos/aerial.mov", State: "looping-primary"}}
	c, err := NewClient(Config{Endpoint: srv.URL, ID: "studio-1", Key: "k"}, "1.2.3",
		func() []engine.Snapshot { return snaps })
	require.NoError(t, err)

	require.NoError(t, c.SendHeartbeat(context.Background()))

	require.Len(t, rec.heartbeats, 1)
	hb := rec.heartbeats[0]
	assert.Equal(t, "studio-1", hb.ID)
	assert.Equal(t, "k", hb.Key)
	assert.Equal(t, "1.2.3", hb.Version)
	require.Len(t, hb.Sessions, 1)
	assert.Equal(t, "looping-primary", hb.Sessions[0].State)
}

func TestSendHeartbeatReportsBadStatus(t *testing.T) {
	rec := &recordingServer{status: http.StatusUnauthorized}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, ID: "studio-1"}, "dev", nil)
	require.NoError(t, err)

	err = c.SendHeartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestReportFailure(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, ID: "studio-1"}, "dev", nil)
	require.NoError(t, err)

	src, err := media.NewSource("/videos/aerial.mov")
	require.NoError(t, err)
	pf := &engine.PermanentFailure{SessionID: "s1", Source: src, Reason: engine.ErrSourceMissing}

	require.NoError(t, c.ReportFailure(context.Background(), pf))

	require.Len(t, rec.failures, 1)
	f := rec.failures[0]
	assert.Equal(t, "s1", f.SessionID)
	assert.Equal(t, src.Path(), f.Source)
	assert.Equal(t, engine.ErrSourceMissing.Error(), f.Reason)
}

func TestRunSendsImmediatelyAndStopsOnCancel(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, ID: "studio-1", Interval: 20 * time.Millisecond}, "dev", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.heartbeatCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPostHonoursContext(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://127.0.0.1:1", ID: "studio-1"}, "dev", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.SendHeartbeat(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
