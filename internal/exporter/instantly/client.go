// Package instantly pushes leads into Instantly campaigns.
package instantly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
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

// Client is a thin wrapper around the Instantly lead/add endpoint.
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
		logger:     logger.Named("instantly"),
	}
}

type leadEntry struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

type addRequest struct {
	APIKey     string      `json:"api_key"`
	CampaignID string      `json:"campaign_id"`
	Leads      []leadEntry `json:"leads"`
}

type addResponse struct {
	Status   string `json:"status"`
	Uploaded int    `json:"leads_uploaded"`
}

// PushLeads adds rows to the campaign and returns the accepted count.
func (c *Client) PushLeads(ctx context.Context, campaignID string, rows []leads.Lead) (int, error) {
	if campaignID == "" {
		return 0, fmt.Errorf("instantly push: empty campaign id")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	payload := addRequest{
		APIKey:     c.cfg.APIKey,
		CampaignID: campaignID,
		Leads:      toEntries(rows),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode instantly payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/lead/add", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build instantly request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("instantly", "error", time.Since(start))
		return 0, fmt.Errorf("instantly push: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveProviderCall("instantly", "error", time.Since(start))
		return 0, fmt.Errorf("instantly push: unexpected status %d", resp.StatusCode)
	}

	var result addResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.ObserveProviderCall("instantly", "error", time.Since(start))
		return 0, fmt.Errorf("decode instantly response: %w", err)
	}
	metrics.ObserveProviderCall("instantly", "ok", time.Since(start))

	c.logger.Debug("leads pushed",
		zap.String("campaign_id", campaignID),
		zap.Int("uploaded", result.Uploaded))
	return result.Uploaded, nil
}

func toEntries(rows []leads.Lead) []leadEntry {
	entries := make([]leadEntry, 0, len(rows))
	for _, row := range rows {
		if row.Email == "" {
			continue
		}
		first, last := splitName(row.Name)
		entries = append(entries, leadEntry{
			Email:       row.Email,
			FirstName:   first,
			LastName:    last,
			CompanyName: row.Company,
		})
	}
	return entries
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
