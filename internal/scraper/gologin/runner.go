package gologin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// extractionScript pulls one row object per contact card out of the
// rendered people-search page.
const extractionScript = `
(() => {
	const rows = [];
	document.querySelectorAll('[data-cy="person-row"], tr.people-row').forEach(el => {
		const text = sel => {
			const node = el.querySelector(sel);
			return node ? node.textContent.trim() : '';
		};
		const href = sel => {
			const node = el.querySelector(sel);
			return node ? node.href : '';
		};
		rows.push({
			name: text('[data-cy="person-name"], .person-name'),
			title: text('[data-cy="person-title"], .person-title'),
			company: text('[data-cy="company-name"], .company-name'),
			company_url: href('[data-cy="company-link"], a.company-link'),
			email: text('[data-cy="person-email"], .person-email'),
			linkedin: href('a[href*="linkedin.com"]'),
		});
	});
	return rows;
})()
`

// ProfileAPI is the slice of the cloud browser API the runner needs.
type ProfileAPI interface {
	StartProfile(ctx context.Context, profileID string) (string, error)
	StopProfile(ctx context.Context, profileID string) error
}

// Enricher fills additional company fields on a scraped row. Enrichment
// is best effort; failures leave the row as scraped.
type Enricher interface {
	Enrich(ctx context.Context, row leads.Lead) (leads.Lead, error)
}

// RunnerConfig controls the scrape runner.
type RunnerConfig struct {
	DefaultProfileID  string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Runner executes scrape jobs: it boots a cloud profile, attaches
// chromedp to its websocket debugger URL and walks the paginated search
// results. The cancellation flag is consulted between pages; a page in
// flight always finishes.
type Runner struct {
	profiles ProfileAPI
	store    leads.JobStore
	enricher Enricher
	clock    leads.Clock
	cfg      RunnerConfig
	logger   *zap.Logger
}

// NewRunner constructs a scrape Runner. The enricher may be nil.
func NewRunner(profiles ProfileAPI, store leads.JobStore, enricher Enricher, clock leads.Clock, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	return &Runner{
		profiles: profiles,
		store:    store,
		enricher: enricher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("scraper"),
	}
}

// Run walks the job's search pages and persists extracted rows.
func (r *Runner) Run(ctx context.Context, job leads.Job, cancelled func() bool) (leads.RunOutcome, error) {
	if job.Kind != leads.KindScrape || job.Scrape == nil {
		return leads.RunOutcome{}, fmt.Errorf("job %s is not a scrape job", job.ID)
	}
	if job.Scrape.TargetURL == "" {
		return leads.RunOutcome{}, fmt.Errorf("job %s has no target url", job.ID)
	}
	pages := job.Scrape.Pages
	if pages < 1 {
		pages = 1
	}
	outcome := leads.RunOutcome{Total: pages}

	if cancelled() {
		outcome.Cancelled = true
		return outcome, nil
	}

	profileID := job.Scrape.ProfileID
	if profileID == "" {
		profileID = r.cfg.DefaultProfileID
	}

	wsURL, err := r.profiles.StartProfile(ctx, profileID)
	if err != nil {
		return outcome, fmt.Errorf("start browser profile: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		if stopErr := r.profiles.StopProfile(stopCtx, profileID); stopErr != nil {
			r.logger.Warn("stop browser profile failed",
				zap.String("profile_id", profileID), zap.Error(stopErr))
		}
	}()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, wsURL)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	for page := 1; page <= pages; page++ {
		if cancelled() {
			outcome.Cancelled = true
			return outcome, nil
		}

		target, err := pageURL(job.Scrape.TargetURL, page)
		if err != nil {
			return outcome, fmt.Errorf("build page url: %w", err)
		}
		rows, err := r.scrapePage(taskCtx, target)
		if err != nil {
			return outcome, fmt.Errorf("scrape page %d: %w", page, err)
		}

		extracted := toLeads(job.ID, rows, r.clock.Now().UTC())
		if job.Scrape.Enrich && r.enricher != nil {
			extracted = r.enrichAll(ctx, extracted)
		}
		if len(extracted) > 0 {
			if err := r.store.RecordLeads(ctx, job.ID, extracted); err != nil {
				return outcome, fmt.Errorf("record leads for page %d: %w", page, err)
			}
		}

		outcome.Processed = page
		if err := r.store.UpdateJobProgress(ctx, job.ID, leads.Progress{Processed: page, Total: pages}); err != nil {
			r.logger.Warn("progress update failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		r.logger.Debug("page scraped",
			zap.String("job_id", job.ID),
			zap.Int("page", page),
			zap.Int("rows", len(extracted)))
	}

	return outcome, nil
}

type pageRow struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Company    string `json:"company"`
	CompanyURL string `json:"company_url"`
	Email      string `json:"email"`
	LinkedIn   string `json:"linkedin"`
}

func (r *Runner) scrapePage(ctx context.Context, target string) ([]pageRow, error) {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	var rows []pageRow
	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Evaluate(extractionScript, &rows),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return rows, nil
}

func (r *Runner) enrichAll(ctx context.Context, rows []leads.Lead) []leads.Lead {
	out := make([]leads.Lead, 0, len(rows))
	for _, row := range rows {
		enriched, err := r.enricher.Enrich(ctx, row)
		if err != nil {
			r.logger.Debug("enrichment failed",
				zap.String("company", row.Company), zap.Error(err))
			out = append(out, row)
			continue
		}
		out = append(out, enriched)
	}
	return out
}

// pageURL sets the page query parameter on the search URL, replacing
// any existing value.
func pageURL(target string, page int) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func toLeads(jobID string, rows []pageRow, now time.Time) []leads.Lead {
	out := make([]leads.Lead, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" && row.Email == "" {
			continue
		}
		out = append(out, leads.Lead{
			JobID:      jobID,
			Name:       row.Name,
			Title:      row.Title,
			Company:    row.Company,
			CompanyURL: row.CompanyURL,
			Email:      row.Email,
			LinkedIn:   row.LinkedIn,
			ScrapedAt:  now,
		})
	}
	return out
}
