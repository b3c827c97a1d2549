package leads

import (
	"context"
	"time"
)

// JobStore persists job records and their results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress Progress) error
	SetJobResult(ctx context.Context, jobID string, resultURI string) error
	ResetJob(ctx context.Context, jobID string) error
	ListJobsByStatus(ctx context.Context, kind JobKind, status JobStatus) ([]Job, error)

	RecordLeads(ctx context.Context, jobID string, rows []Lead) error
	ListLeads(ctx context.Context, jobID string) ([]Lead, error)
	RecordVerifications(ctx context.Context, jobID string, rows []VerificationResult) error
	ListVerifications(ctx context.Context, jobID string) ([]VerificationResult, error)
}

// CreditLedger tracks per-owner credit balances.
type CreditLedger interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	Add(ctx context.Context, ownerID string, amount int64, reason string) error
	Spend(ctx context.Context, ownerID string, amount int64, reason string) error
}

// Queue provides single-flight enqueue/claim semantics for one job kind.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) (int, error)
	DequeueNext() (QueueItem, bool)
	Finish(jobID string)
	Cancel(jobID string) bool
	Cancelled(jobID string) bool
	Remove(jobID string) bool
	Wait(ctx context.Context, fallback time.Duration) error
	Snapshot() QueueSnapshot
	Close()
}

// Runner executes the work for one claimed job. Implementations must
// consult cancelled between discrete sub-steps and stop early when it
// returns true; the in-flight external call itself is never interrupted.
type Runner interface {
	Run(ctx context.Context, job Job, cancelled func() bool) (RunOutcome, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Authorizer maps a user identifier to an authorization role.
type Authorizer interface {
	Authorize(ctx context.Context, userID string) (Role, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
