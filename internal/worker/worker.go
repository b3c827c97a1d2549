// Package worker implements the single-flight job processor loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// PollInterval is the wake fallback when no enqueue signal arrives.
	PollInterval time.Duration
	// Topic receives completion events; empty disables publishing.
	Topic string
}

// Worker services one queue, one item at a time, for the lifetime of
// the process. Claim, checkpoint, run, write terminal state, repeat.
type Worker struct {
	queue     leads.Queue
	jobStore  leads.JobStore
	runner    leads.Runner
	publisher leads.Publisher
	clock     leads.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue leads.Queue,
	jobStore leads.JobStore,
	runner leads.Runner,
	publisher leads.Publisher,
	clock leads.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, servicing the queue until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := w.queue.DequeueNext()
		if !ok {
			if err := w.queue.Wait(ctx, w.cfg.PollInterval); err != nil {
				return
			}
			continue
		}
		w.processItem(ctx, item)
		w.queue.Finish(item.JobID)
	}
}

func (w *Worker) processItem(ctx context.Context, item leads.QueueItem) {
	log := w.logger.With(zap.String("job_id", item.JobID), zap.String("kind", string(item.Kind)))

	// Cancellation may have raced the claim; honor it before any work.
	if w.queue.Cancelled(item.JobID) {
		log.Info("job cancelled before start")
		w.writeTerminal(ctx, item, leads.JobStatusCancelled, "cancelled before start", leads.RunOutcome{})
		return
	}

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		log.Warn("claimed job already terminal", zap.String("status", string(job.Status)))
		return
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, leads.JobStatusProcessing, ""); err != nil {
		// Queue state stays authoritative; the UI view is stale until the
		// terminal write, which is retried below regardless.
		log.Error("mark processing failed", zap.Error(err))
	}
	metrics.SetQueueActive(string(item.Kind), true)
	defer metrics.SetQueueActive(string(item.Kind), false)

	outcome, runErr := w.runner.Run(ctx, job, func() bool {
		return w.queue.Cancelled(item.JobID)
	})

	switch {
	case outcome.Cancelled || w.queue.Cancelled(item.JobID):
		log.Info("job cancelled at checkpoint", zap.Int("processed", outcome.Processed))
		w.writeTerminal(ctx, item, leads.JobStatusCancelled, "cancelled", outcome)
	case runErr != nil:
		// Item-boundary catch: a bad item never stalls the queue.
		log.Error("job failed", zap.Error(runErr))
		w.writeTerminal(ctx, item, leads.JobStatusFailed, runErr.Error(), outcome)
	default:
		log.Info("job completed",
			zap.Int("processed", outcome.Processed),
			zap.Int("total", outcome.Total),
		)
		w.writeTerminal(ctx, item, leads.JobStatusCompleted, "", outcome)
	}
}

func (w *Worker) writeTerminal(
	ctx context.Context,
	item leads.QueueItem,
	status leads.JobStatus,
	errText string,
	outcome leads.RunOutcome,
) {
	if outcome.Processed > 0 || outcome.Total > 0 {
		progress := leads.Progress{Processed: outcome.Processed, Total: outcome.Total}
		if err := w.jobStore.UpdateJobProgress(ctx, item.JobID, progress); err != nil {
			w.logger.Error("final progress update failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText); err != nil {
		w.logger.Error("terminal status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(item.Kind), string(status))
	w.publishCompletion(ctx, item, status, outcome)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	item leads.QueueItem,
	status leads.JobStatus,
	outcome leads.RunOutcome,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := leads.CompletionEvent{
		JobID:      item.JobID,
		OwnerID:    item.OwnerID,
		Kind:       item.Kind,
		Status:     status,
		Processed:  outcome.Processed,
		Total:      outcome.Total,
		FinishedAt: w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("completion publish failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}
