// Package smartlead pushes leads into Smartlead campaigns.
package smartlead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// Config controls Client behavior.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin wrapper around the Smartlead campaign leads endpoint.
// The API key travels as a query parameter, which is how the service
// authenticates.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("smartlead"),
	}
}

type leadEntry struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	LinkedIn    string `json:"linkedin_profile,omitempty"`
}

type addRequest struct {
	LeadList []leadEntry `json:"lead_list"`
}

type addResponse struct {
	OK            bool `json:"ok"`
	UploadCount   int  `json:"upload_count"`
	AlreadyExists int  `json:"already_added_to_campaign"`
}

// PushLeads adds rows to the campaign and returns the accepted count.
func (c *Client) PushLeads(ctx context.Context, campaignID string, rows []leads.Lead) (int, error) {
	if campaignID == "" {
		return 0, fmt.Errorf("smartlead push: empty campaign id")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	entries := make([]leadEntry, 0, len(rows))
	for _, row := range rows {
		if row.Email == "" {
			continue
		}
		entries = append(entries, leadEntry{
			Email:       row.Email,
			FirstName:   row.Name,
			CompanyName: row.Company,
			LinkedIn:    row.LinkedIn,
		})
	}

	body, err := json.Marshal(addRequest{LeadList: entries})
	if err != nil {
		return 0, fmt.Errorf("encode smartlead payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/campaigns/%s/leads?api_key=%s",
		c.cfg.BaseURL, url.PathEscape(campaignID), url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build smartlead request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("smartlead", "error", time.Since(start))
		return 0, fmt.Errorf("smartlead push: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveProviderCall("smartlead", "error", time.Since(start))
		return 0, fmt.Errorf("smartlead push: unexpected status %d", resp.StatusCode)
	}

	var result addResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.ObserveProviderCall("smartlead", "error", time.Since(start))
		return 0, fmt.Errorf("decode smartlead response: %w", err)
	}
	metrics.ObserveProviderCall("smartlead", "ok", time.Since(start))

	c.logger.Debug("leads pushed",
		zap.String("campaign_id", campaignID),
		zap.Int("uploaded", result.UploadCount),
		zap.Int("duplicates", result.AlreadyExists))
	return result.UploadCount, nil
}
