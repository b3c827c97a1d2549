package leads

import "errors"

// Sentinel errors shared across stores and services.
var (
	// ErrNotFound indicates a missing job or related record.
	ErrNotFound = errors.New("not found")

	// ErrJobTerminal indicates a state transition on an already-finished job.
	ErrJobTerminal = errors.New("job already in terminal state")

	// ErrInsufficientCredits indicates the owner cannot afford the job.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNoKeys indicates the rotation pool has no keys configured.
	ErrNoKeys = errors.New("no API keys configured")

	// ErrQueueClosed indicates the queue is shutting down.
	ErrQueueClosed = errors.New("queue closed")
)
