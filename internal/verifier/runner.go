// Package verifier runs email-verification jobs in paced batches.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// EmailVerifier classifies a single address.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) (leads.VerificationResult, error)
}

// Config controls batch sizing and pacing.
type Config struct {
	// BatchSize is the number of concurrent provider calls per batch.
	BatchSize int
	// BatchDelay is the pause between consecutive batches.
	BatchDelay time.Duration
}

// Runner executes one verification job: the email list is split into
// batches of BatchSize concurrent calls with a BatchDelay pause between
// batches. Cancellation is checked between batches, never mid-call.
type Runner struct {
	verifier EmailVerifier
	store    leads.JobStore
	clock    leads.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(verifier EmailVerifier, store leads.JobStore, clock leads.Clock, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 2100 * time.Millisecond
	}
	return &Runner{
		verifier: verifier,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run implements leads.Runner.
func (r *Runner) Run(ctx context.Context, job leads.Job, cancelled func() bool) (leads.RunOutcome, error) {
	if job.Verify == nil || len(job.Verify.Emails) == 0 {
		return leads.RunOutcome{}, errors.New("verification job has no emails")
	}
	emails := job.Verify.Emails
	total := len(emails)
	outcome := leads.RunOutcome{Total: total}

	limiter := rate.NewLimiter(rate.Every(r.cfg.BatchDelay), 1)

	for start := 0; start < total; start += r.cfg.BatchSize {
		if cancelled() {
			outcome.Cancelled = true
			return outcome, nil
		}
		waitStart := r.clock.Now()
		if err := limiter.Wait(ctx); err != nil {
			return outcome, fmt.Errorf("batch pacing: %w", err)
		}
		if d := r.clock.Now().Sub(waitStart); d > 0 {
			metrics.ObserveBatchDelay(d)
		}

		end := start + r.cfg.BatchSize
		if end > total {
			end = total
		}
		results := r.verifyBatch(ctx, job.ID, emails[start:end])

		if err := r.store.RecordVerifications(ctx, job.ID, results); err != nil {
			return outcome, fmt.Errorf("record verifications: %w", err)
		}
		outcome.Processed = end
		progress := leads.Progress{Processed: outcome.Processed, Total: total}
		if err := r.store.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			// The in-memory view stays authoritative; only the polled
			// progress is stale until the next successful write.
			r.logger.Error("progress update failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return outcome, nil
}

func (r *Runner) verifyBatch(ctx context.Context, jobID string, emails []string) []leads.VerificationResult {
	results := make([]leads.VerificationResult, len(emails))
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			res, err := r.verifier.Verify(ctx, email)
			if err != nil {
				// A single bad address never fails the job; it is
				// recorded as unknown and the batch moves on.
				r.logger.Warn("email verification failed",
					zap.String("job_id", jobID),
					zap.String("email", email),
					zap.Error(err),
				)
				res = leads.VerificationResult{
					Email:          email,
					Classification: leads.ClassUnknown,
					CheckedAt:      r.clock.Now(),
				}
			}
			res.JobID = jobID
			results[i] = res
		}(i, email)
	}
	wg.Wait()
	return results
}
