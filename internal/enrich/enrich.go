// Package enrich fills company details on scraped rows by visiting the
// company website with a Colly collector.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBody   int
}

// Enricher fetches a lead's company page and extracts the page title
// and meta description. Results are cached per URL so a scrape full of
// colleagues hits each company site once.
type Enricher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New builds an Enricher.
func New(cfg Config, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 2 << 20
	}

	c := colly.NewCollector(colly.Async(false), colly.MaxBodySize(cfg.MaxBody))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Enricher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger.Named("enrich"),
		cache:         make(map[string]string),
	}
}

// Enrich returns the row with CompanyInfo filled from the company page.
// Rows without a company URL pass through untouched.
func (e *Enricher) Enrich(ctx context.Context, row leads.Lead) (leads.Lead, error) {
	if row.CompanyURL == "" {
		return row, nil
	}

	if info, ok := e.cached(row.CompanyURL); ok {
		row.CompanyInfo = info
		return row, nil
	}

	info, err := e.fetchInfo(ctx, row.CompanyURL)
	if err != nil {
		return row, err
	}
	e.remember(row.CompanyURL, info)
	row.CompanyInfo = info
	return row, nil
}

func (e *Enricher) fetchInfo(ctx context.Context, target string) (string, error) {
	collector := e.baseCollector.Clone()

	var (
		title       string
		description string
		visitErr    error
	)
	collector.OnHTML("title", func(el *colly.HTMLElement) {
		if title == "" {
			title = strings.TrimSpace(el.Text)
		}
	})
	collector.OnHTML(`meta[name="description"]`, func(el *colly.HTMLElement) {
		if description == "" {
			description = strings.TrimSpace(el.Attr("content"))
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		metrics.ObserveProviderCall("enrich", "error", time.Since(start))
		return "", fmt.Errorf("enrichment canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			metrics.ObserveProviderCall("enrich", "error", time.Since(start))
			return "", fmt.Errorf("visit %s: %w", target, err)
		}
		if visitErr != nil {
			metrics.ObserveProviderCall("enrich", "error", time.Since(start))
			return "", fmt.Errorf("visit %s: %w", target, visitErr)
		}
	}
	metrics.ObserveProviderCall("enrich", "ok", time.Since(start))

	return composeInfo(title, description), nil
}

func (e *Enricher) cached(url string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.cache[url]
	return info, ok
}

func (e *Enricher) remember(url, info string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[url] = info
}

func composeInfo(title, description string) string {
	switch {
	case title != "" && description != "":
		return title + " - " + description
	case title != "":
		return title
	default:
		return description
	}
}
