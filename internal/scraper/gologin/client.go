// Package gologin starts and stops cloud browser profiles via the
// GoLogin HTTP API. A started profile exposes a websocket debugger URL
// that chromedp attaches to.
package gologin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// Config controls Client behavior.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client wraps the GoLogin cloud browser API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type startResponse struct {
	WSURL  string `json:"wsUrl"`
	Status string `json:"status"`
}

// StartProfile boots the cloud browser for the given profile and
// returns its websocket debugger URL.
func (c *Client) StartProfile(ctx context.Context, profileID string) (string, error) {
	if profileID == "" {
		return "", fmt.Errorf("start profile: empty profile id")
	}

	payload, err := json.Marshal(map[string]bool{"cloud": true})
	if err != nil {
		return "", fmt.Errorf("encode start payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/browser/%s/web", c.cfg.BaseURL, profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	c.decorate(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return "", fmt.Errorf("start profile %s: %w", profileID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return "", fmt.Errorf("start profile %s: unexpected status %d", profileID, resp.StatusCode)
	}

	var body startResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if body.WSURL == "" {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return "", fmt.Errorf("start profile %s: response missing websocket url", profileID)
	}
	metrics.ObserveProviderCall("gologin", "ok", time.Since(start))

	c.logger.Debug("cloud profile started", zap.String("profile_id", profileID))
	return body.WSURL, nil
}

// StopProfile shuts the cloud browser down. Failures are returned but
// callers typically only log them; the session is already over.
func (c *Client) StopProfile(ctx context.Context, profileID string) error {
	endpoint := fmt.Sprintf("%s/browser/%s/web", c.cfg.BaseURL, profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build stop request: %w", err)
	}
	c.decorate(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return fmt.Errorf("stop profile %s: %w", profileID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		metrics.ObserveProviderCall("gologin", "error", time.Since(start))
		return fmt.Errorf("stop profile %s: unexpected status %d", profileID, resp.StatusCode)
	}
	metrics.ObserveProviderCall("gologin", "ok", time.Since(start))
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
}
