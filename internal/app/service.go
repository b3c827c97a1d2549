// Package app holds the job service: the single entry point the HTTP
// layer uses to submit, inspect, cancel and export jobs. All queue and
// store wiring is injected, nothing here reads global state.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/artifact"
	"github.com/DavidSuperwave/leadengine/internal/exporter"
	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// ErrInvalidInput marks request validation failures; the HTTP layer
// maps it to 400.
var ErrInvalidInput = errors.New("invalid input")

// Config bounds submissions and prices jobs in credits.
type Config struct {
	ScrapeCostPerPage  int64
	VerifyCostPerEmail int64
	MaxPages           int
	MaxEmails          int
}

func (c Config) withDefaults() Config {
	if c.ScrapeCostPerPage <= 0 {
		c.ScrapeCostPerPage = 25
	}
	if c.VerifyCostPerEmail <= 0 {
		c.VerifyCostPerEmail = 1
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.MaxEmails <= 0 {
		c.MaxEmails = 10000
	}
	return c
}

// Submission is returned for accepted jobs.
type Submission struct {
	JobID         string `json:"job_id"`
	QueuePosition int    `json:"queue_position"`
}

// JobResult bundles a job with its result rows.
type JobResult struct {
	Job           leads.Job                  `json:"job"`
	Leads         []leads.Lead               `json:"leads,omitempty"`
	Verifications []leads.VerificationResult `json:"verifications,omitempty"`
}

// Service implements the job operations behind the HTTP API.
type Service struct {
	store       leads.JobStore
	ledger      leads.CreditLedger
	scrapeQueue leads.Queue
	verifyQueue leads.Queue
	artifacts   *artifact.Builder
	exporters   *exporter.Registry
	idGen       leads.IDGenerator
	clock       leads.Clock
	cfg         Config
	logger      *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store leads.JobStore,
	ledger leads.CreditLedger,
	scrapeQueue leads.Queue,
	verifyQueue leads.Queue,
	artifacts *artifact.Builder,
	exporters *exporter.Registry,
	idGen leads.IDGenerator,
	clock leads.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		ledger:      ledger,
		scrapeQueue: scrapeQueue,
		verifyQueue: verifyQueue,
		artifacts:   artifacts,
		exporters:   exporters,
		idGen:       idGen,
		clock:       clock,
		cfg:         cfg.withDefaults(),
		logger:      logger.Named("service"),
	}
}

// SubmitScrape validates, charges and enqueues a scrape job.
func (s *Service) SubmitScrape(ctx context.Context, ownerID string, params leads.ScrapeParameters) (Submission, error) {
	if err := validateScrape(params, s.cfg.MaxPages); err != nil {
		return Submission{}, err
	}
	if params.Pages == 0 {
		params.Pages = 1
	}
	cost := int64(params.Pages) * s.cfg.ScrapeCostPerPage
	job := leads.Job{
		OwnerID: ownerID,
		Kind:    leads.KindScrape,
		Scrape:  &params,
	}
	return s.submit(ctx, job, cost)
}

// SubmitVerification validates, charges and enqueues a verification job.
func (s *Service) SubmitVerification(ctx context.Context, ownerID string, params leads.VerifyParameters) (Submission, error) {
	if err := validateEmails(params.Emails, s.cfg.MaxEmails); err != nil {
		return Submission{}, err
	}
	cost := int64(len(params.Emails)) * s.cfg.VerifyCostPerEmail
	job := leads.Job{
		OwnerID: ownerID,
		Kind:    leads.KindVerify,
		Verify:  &params,
	}
	return s.submit(ctx, job, cost)
}

func (s *Service) submit(ctx context.Context, job leads.Job, cost int64) (Submission, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate job id: %w", err)
	}
	job.ID = jobID
	job.Status = leads.JobStatusPending
	job.Submitted = s.clock.Now().UTC()

	if err := s.ledger.Spend(ctx, job.OwnerID, cost, "job:"+jobID); err != nil {
		return Submission{}, err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.refund(ctx, job.OwnerID, cost, jobID)
		return Submission{}, fmt.Errorf("create job: %w", err)
	}

	queue := s.queueFor(job.Kind)
	position, err := queue.Enqueue(ctx, leads.QueueItem{
		JobID:     jobID,
		OwnerID:   job.OwnerID,
		Kind:      job.Kind,
		Attempt:   1,
		Submitted: job.Submitted.Unix(),
	})
	if err != nil {
		s.refund(ctx, job.OwnerID, cost, jobID)
		if statusErr := s.store.UpdateJobStatus(ctx, jobID, leads.JobStatusFailed, "enqueue failed"); statusErr != nil {
			s.logger.Warn("mark job failed after enqueue error",
				zap.String("job_id", jobID), zap.Error(statusErr))
		}
		return Submission{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.SetQueueDepth(string(job.Kind), queue.Snapshot().Depth)

	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("owner_id", job.OwnerID),
		zap.String("kind", string(job.Kind)),
		zap.Int("queue_position", position),
		zap.Int64("cost", cost))
	return Submission{JobID: jobID, QueuePosition: position}, nil
}

func (s *Service) refund(ctx context.Context, ownerID string, cost int64, jobID string) {
	if err := s.ledger.Add(ctx, ownerID, cost, "refund:"+jobID); err != nil {
		s.logger.Error("refund failed",
			zap.String("owner_id", ownerID),
			zap.String("job_id", jobID),
			zap.Int64("cost", cost),
			zap.Error(err))
	}
}

// GetJob returns a job visible to the caller. Non-admins only see
// their own jobs; anything else reads as not found.
func (s *Service) GetJob(ctx context.Context, ownerID string, role leads.Role, jobID string) (leads.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return leads.Job{}, err
	}
	if err := authorizeOwner(job, ownerID, role); err != nil {
		return leads.Job{}, err
	}
	return job, nil
}

// Result returns a job together with its result rows.
func (s *Service) Result(ctx context.Context, ownerID string, role leads.Role, jobID string) (JobResult, error) {
	job, err := s.GetJob(ctx, ownerID, role, jobID)
	if err != nil {
		return JobResult{}, err
	}
	result := JobResult{Job: job}
	switch job.Kind {
	case leads.KindScrape:
		result.Leads, err = s.store.ListLeads(ctx, jobID)
	case leads.KindVerify:
		result.Verifications, err = s.store.ListVerifications(ctx, jobID)
	}
	if err != nil {
		return JobResult{}, fmt.Errorf("load results: %w", err)
	}
	return result, nil
}

// Cancel requests cancellation. Queued jobs are removed and persisted
// cancelled immediately; the in-flight job is flagged and ends
// cancelled at its next checkpoint. Cancelling a finished job is a
// no-op.
func (s *Service) Cancel(ctx context.Context, ownerID string, role leads.Role, jobID string) (leads.Job, error) {
	job, err := s.GetJob(ctx, ownerID, role, jobID)
	if err != nil {
		return leads.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	queue := s.queueFor(job.Kind)
	matched := queue.Cancel(jobID)
	if queue.Snapshot().ActiveJobID == jobID {
		// Worker persists the cancelled status at the next checkpoint.
		s.logger.Info("cancellation flagged for running job", zap.String("job_id", jobID))
		return job, nil
	}
	if !matched {
		// The worker finished the job between our read and the cancel;
		// the terminal state it wrote wins.
		return s.store.GetJob(ctx, jobID)
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, leads.JobStatusCancelled, "cancelled by user"); err != nil {
		if errors.Is(err, leads.ErrJobTerminal) {
			return s.store.GetJob(ctx, jobID)
		}
		return leads.Job{}, fmt.Errorf("persist cancellation: %w", err)
	}
	metrics.SetQueueDepth(string(job.Kind), queue.Snapshot().Depth)
	return s.store.GetJob(ctx, jobID)
}

// Reset returns a stuck job to pending and requeues it. Admin only;
// the HTTP layer enforces the role before calling.
func (s *Service) Reset(ctx context.Context, jobID string) (leads.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return leads.Job{}, err
	}
	if err := s.store.ResetJob(ctx, jobID); err != nil {
		return leads.Job{}, err
	}

	queue := s.queueFor(job.Kind)
	queue.Remove(jobID)
	if _, err := queue.Enqueue(ctx, leads.QueueItem{
		JobID:     jobID,
		OwnerID:   job.OwnerID,
		Kind:      job.Kind,
		Attempt:   1,
		Submitted: job.Submitted.Unix(),
	}); err != nil {
		return leads.Job{}, fmt.Errorf("requeue job: %w", err)
	}

	s.logger.Info("job reset", zap.String("job_id", jobID))
	return s.store.GetJob(ctx, jobID)
}

// Export builds (or returns) the CSV artifact for a completed job.
func (s *Service) Export(ctx context.Context, ownerID string, role leads.Role, jobID string) (string, error) {
	job, err := s.GetJob(ctx, ownerID, role, jobID)
	if err != nil {
		return "", err
	}
	return s.artifacts.Export(ctx, job)
}

// Push sends a completed job's usable leads to an outbound campaign
// tool. Scrape jobs push their rows; verification jobs push the
// addresses that verified valid.
func (s *Service) Push(ctx context.Context, ownerID string, role leads.Role, jobID, tool, campaignID string) (int, error) {
	job, err := s.GetJob(ctx, ownerID, role, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != leads.JobStatusCompleted {
		return 0, fmt.Errorf("%w: job %s is %s, only completed jobs push", ErrInvalidInput, jobID, job.Status)
	}
	target, err := s.exporters.Lookup(tool)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if campaignID == "" {
		return 0, fmt.Errorf("%w: campaign_id is required", ErrInvalidInput)
	}

	rows, err := s.pushableRows(ctx, job)
	if err != nil {
		return 0, err
	}
	return target.PushLeads(ctx, campaignID, rows)
}

func (s *Service) pushableRows(ctx context.Context, job leads.Job) ([]leads.Lead, error) {
	switch job.Kind {
	case leads.KindScrape:
		rows, err := s.store.ListLeads(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("load leads: %w", err)
		}
		return rows, nil
	case leads.KindVerify:
		results, err := s.store.ListVerifications(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("load verifications: %w", err)
		}
		var rows []leads.Lead
		for _, res := range results {
			if res.Classification == leads.ClassValid {
				rows = append(rows, leads.Lead{JobID: job.ID, Email: res.Email})
			}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// QueueSnapshot reports the live state of one queue by name.
func (s *Service) QueueSnapshot(name string) (leads.QueueSnapshot, error) {
	switch leads.JobKind(name) {
	case leads.KindScrape:
		return s.scrapeQueue.Snapshot(), nil
	case leads.KindVerify:
		return s.verifyQueue.Snapshot(), nil
	default:
		return leads.QueueSnapshot{}, fmt.Errorf("%w: unknown queue %q", ErrInvalidInput, name)
	}
}

// Credits returns the caller's credit balance.
func (s *Service) Credits(ctx context.Context, ownerID string) (int64, error) {
	return s.ledger.Balance(ctx, ownerID)
}

func (s *Service) queueFor(kind leads.JobKind) leads.Queue {
	if kind == leads.KindScrape {
		return s.scrapeQueue
	}
	return s.verifyQueue
}

func authorizeOwner(job leads.Job, ownerID string, role leads.Role) error {
	if role == leads.RoleAdmin || job.OwnerID == ownerID {
		return nil
	}
	// Foreign jobs read as missing so IDs cannot be probed.
	return leads.ErrNotFound
}

func validateScrape(params leads.ScrapeParameters, maxPages int) error {
	parsed, err := url.Parse(params.TargetURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: target_url must be an absolute http(s) URL", ErrInvalidInput)
	}
	if params.Pages < 0 || params.Pages > maxPages {
		return fmt.Errorf("%w: pages must be between 1 and %d", ErrInvalidInput, maxPages)
	}
	return nil
}

func validateEmails(emails []string, maxEmails int) error {
	if len(emails) == 0 {
		return fmt.Errorf("%w: emails list is empty", ErrInvalidInput)
	}
	if len(emails) > maxEmails {
		return fmt.Errorf("%w: at most %d emails per job", ErrInvalidInput, maxEmails)
	}
	for _, email := range emails {
		if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
			return fmt.Errorf("%w: malformed email %q", ErrInvalidInput, email)
		}
	}
	return nil
}
