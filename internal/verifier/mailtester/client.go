// Package mailtester implements email verification via the MailTester API.
package mailtester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DavidSuperwave/leadengine/internal/keypool"
	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// ErrRateLimited is returned when the provider answers HTTP 429 and no
// retry with a different key is possible.
var ErrRateLimited = errors.New("mailtester: rate limited")

// Config controls Client behavior.
type Config struct {
	BaseURL    string
	DefaultKey string
	Timeout    time.Duration
	// RequestsPerSec caps the provider call rate across all keys;
	// zero or negative disables the cap.
	RequestsPerSec float64
}

// Client is a thin wrapper around the MailTester verification endpoint.
// Keys come from the rotation pool when one is configured; on a 429 the
// call is retried exactly once with a different key, never the same one.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pool       *keypool.Pool
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New constructs a Client.
func New(cfg Config, pool *keypool.Pool, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pool:       pool,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

type apiResponse struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Verify classifies one email address. The provider's ok/ko/mb codes
// map to valid/invalid/catchall; anything else is unknown.
func (c *Client) Verify(ctx context.Context, email string) (leads.VerificationResult, error) {
	key := c.pickKey()

	res, err := c.verifyOnce(ctx, email, key)
	if !errors.Is(err, ErrRateLimited) {
		return res, err
	}

	// One retry with a different key; the budget is 2 total attempts.
	alt, altErr := c.pool.NextExcluding(key)
	if altErr != nil {
		return leads.VerificationResult{}, fmt.Errorf("verify %s: %w", email, err)
	}
	metrics.ObserveRateLimitRetry()
	c.logger.Debug("rate limited, retrying with rotated key", zap.String("email", email))
	res, err = c.verifyOnce(ctx, email, alt)
	if err != nil {
		return leads.VerificationResult{}, fmt.Errorf("verify %s after retry: %w", email, err)
	}
	return res, nil
}

func (c *Client) pickKey() string {
	key, err := c.pool.Next()
	if err != nil {
		return c.cfg.DefaultKey
	}
	return key
}

func (c *Client) verifyOnce(ctx context.Context, email, key string) (leads.VerificationResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return leads.VerificationResult{}, fmt.Errorf("rate limiter: %w", err)
	}
	endpoint := fmt.Sprintf("%s/ninja?email=%s&token=%s",
		c.cfg.BaseURL, url.QueryEscape(email), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return leads.VerificationResult{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("mailtester", "error", time.Since(start))
		return leads.VerificationResult{}, fmt.Errorf("verification request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.ObserveProviderCall("mailtester", "rate_limited", time.Since(start))
		return leads.VerificationResult{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveProviderCall("mailtester", "error", time.Since(start))
		return leads.VerificationResult{}, fmt.Errorf("verification request: unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ObserveProviderCall("mailtester", "error", time.Since(start))
		return leads.VerificationResult{}, fmt.Errorf("decode verification response: %w", err)
	}
	metrics.ObserveProviderCall("mailtester", "ok", time.Since(start))

	return leads.VerificationResult{
		Email:          email,
		Classification: classify(body.Code),
		ProviderCode:   body.Code,
		CheckedAt:      time.Now().UTC(),
	}, nil
}

func classify(code string) leads.Classification {
	switch code {
	case "ok":
		return leads.ClassValid
	case "ko":
		return leads.ClassInvalid
	case "mb":
		return leads.ClassCatchall
	default:
		return leads.ClassUnknown
	}
}
