package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Reconciler rebuilds a queue from persisted rows at startup. Pending
// rows are requeued in submission order; processing rows older than the
// orphan threshold were abandoned by a previous process and are reset
// to pending before requeueing.
type Reconciler struct {
	queue           leads.Queue
	jobStore        leads.JobStore
	kind            leads.JobKind
	orphanThreshold time.Duration
	clock           leads.Clock
	logger          *zap.Logger
}

// NewReconciler constructs a Reconciler for one job kind.
func NewReconciler(
	queue leads.Queue,
	jobStore leads.JobStore,
	kind leads.JobKind,
	orphanThreshold time.Duration,
	clock leads.Clock,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if orphanThreshold <= 0 {
		orphanThreshold = 15 * time.Minute
	}
	return &Reconciler{
		queue:           queue,
		jobStore:        jobStore,
		kind:            kind,
		orphanThreshold: orphanThreshold,
		clock:           clock,
		logger:          logger,
	}
}

// Run performs one reconciliation pass and returns the number of jobs
// requeued.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	requeued := 0

	stuck, err := r.jobStore.ListJobsByStatus(ctx, r.kind, leads.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}
	now := r.clock.Now()
	for _, job := range stuck {
		started := job.Submitted
		if job.Started != nil {
			started = *job.Started
		}
		if now.Sub(started) < r.orphanThreshold {
			// Recently started; assume a live worker in this process owns it.
			continue
		}
		if err := r.jobStore.ResetJob(ctx, job.ID); err != nil {
			r.logger.Error("reset orphaned job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		r.logger.Warn("orphaned processing job reset",
			zap.String("job_id", job.ID),
			zap.Duration("age", now.Sub(started)),
		)
	}

	pending, err := r.jobStore.ListJobsByStatus(ctx, r.kind, leads.JobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Submitted.Before(pending[j].Submitted)
	})
	for _, job := range pending {
		item := leads.QueueItem{
			JobID:     job.ID,
			OwnerID:   job.OwnerID,
			Kind:      job.Kind,
			Attempt:   1,
			Submitted: job.Submitted.Unix(),
		}
		if _, err := r.queue.Enqueue(ctx, item); err != nil {
			return requeued, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		requeued++
	}
	if requeued > 0 {
		r.logger.Info("queue rebuilt from store",
			zap.String("kind", string(r.kind)),
			zap.Int("requeued", requeued),
		)
	}
	return requeued, nil
}
