// Package report sends playback status to a remote endpoint: a periodic
// heartbeat carrying session snapshots, and a one-off event when a
// session fails permanently.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"livewall/internal/engine"
	"livewall/internal/log"
)

// Config identifies this player to the remote endpoint.
type Config struct {
	Endpoint string
	ID       string
	Key      string
	Interval time.Duration
}

// Heartbeat is the payload sent to the remote server on each tick.
type Heartbeat struct {
	ID        string            `json:"id"`
	Key       string            `json:"key,omitempty"`
	Timestamp string            `json:"timestamp"`
	Uptime    float64           `json:"uptime_sec"`
	Version   string            `json:"version"`
	Arch      string            `json:"arch"`
	OS        string            `json:"os"`
	Sessions  []engine.Snapshot `json:"sessions"`
}

// Failure is posted once per permanently failed session.
type Failure struct {
	ID        string `json:"id"`
	Key       string `json:"key,omitempty"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// StatusFunc returns the snapshots to include in a heartbeat.
type StatusFunc func() []engine.Snapshot

// Client manages the heartbeat loop and server communication.
type Client struct {
	cfg     Config
	version string
	status  StatusFunc
	startAt time.Time
	httpCli *http.Client
	log     zerolog.Logger
}

const defaultInterval = 60 * time.Second

// NewClient creates a reporter. Endpoint and ID are required.
func NewClient(cfg Config, version string, status StatusFunc) (*Client, error) {
	if cfg.Endpoint == "" || cfg.ID == "" {
		return nil, fmt.Errorf("report: endpoint and id are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if status == nil {
		status = func() []engine.Snapshot { return nil }
	}
	return &Client{
		cfg:     cfg,
		version: version,
		status:  status,
		startAt: time.Now(),
		httpCli: &http.Client{Timeout: 10 * time.Second},
		log:     log.WithComponent("report"),
	}, nil
}

// Run sends a heartbeat immediately and then every interval until ctx is
// done.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", c.cfg.Interval).Str("endpoint", c.cfg.Endpoint).Msg("heartbeat started")

	if err := c.SendHeartbeat(ctx); err != nil {
		c.log.Warn().Err(err).Msg("heartbeat failed")
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("heartbeat stopped")
			return nil
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				c.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// SendHeartbeat posts one heartbeat.
func (c *Client) SendHeartbeat(ctx context.Context) error {
	hb := Heartbeat{
		ID:        c.cfg.ID,
		Key:       c.cfg.Key,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(c.startAt).Seconds(),
		Version:   c.version,
		Arch:      runtime.GOARCH,
		OS:        runtime.GOOS,
		Sessions:  c.status(),
	}
	if err := c.post(ctx, "heartbeat", hb); err != nil {
		return err
	}
	c.log.Debug().Int("sessions", len(hb.Sessions)).Msg("heartbeat sent")
	return nil
}

// ReportFailure posts a permanent failure.
func (c *Client) ReportFailure(ctx context.Context, pf *engine.PermanentFailure) error {
	f := Failure{
		ID:        c.cfg.ID,
		Key:       c.cfg.Key,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SessionID: pf.SessionID,
		Source:    pf.Source.Path(),
	}
	if pf.Reason != nil {
		f.Reason = pf.Reason.Error()
	}
	return c.post(ctx, "failure", f)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	url := fmt.Sprintf("%s/%s", c.cfg.Endpoint, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
