// Package memory provides the in-process single-flight job queue.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Queue holds pending work in submission order and tracks the single
// active item. At most one item is claimed at a time; a new claim is
// only handed out after Finish releases the previous one.
type Queue struct {
	mu        sync.Mutex
	name      string
	pending   []leads.QueueItem
	active    string
	cancelled map[string]bool
	wake      chan struct{}
	closed    bool
}

// New constructs a Queue for the named job kind.
func New(name string) *Queue {
	return &Queue{
		name:      name,
		cancelled: make(map[string]bool),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue appends the item and returns its 1-based position among
// pending entries. Duplicate payloads are allowed.
func (q *Queue) Enqueue(ctx context.Context, item leads.QueueItem) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("enqueue cancelled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, leads.ErrQueueClosed
	}
	q.pending = append(q.pending, item)
	pos := len(q.pending)
	q.signal()
	return pos, nil
}

// DequeueNext claims the head item if nothing is currently processing.
// It returns false when the queue is empty or an item is already active.
func (q *Queue) DequeueNext() (leads.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.active != "" || len(q.pending) == 0 {
		return leads.QueueItem{}, false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	q.active = item.JobID
	return item, true
}

// Finish releases the active slot after the item reaches a terminal
// state and wakes the processor so it can claim the next item.
func (q *Queue) Finish(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == jobID {
		q.active = ""
	}
	delete(q.cancelled, jobID)
	q.signal()
}

// Cancel removes all queued entries for the job. If the job is already
// processing it sets a flag consulted cooperatively by the runner. It
// reports whether any entry or the active item matched. Only the active
// item gets the flag; a removed pending entry never starts, so its flag
// would have nothing to clear it (Finish only runs for claimed items).
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	matched := false
	kept := q.pending[:0]
	for _, item := range q.pending {
		if item.JobID == jobID {
			matched = true
			continue
		}
		kept = append(kept, item)
	}
	q.pending = kept
	if q.active == jobID {
		matched = true
		q.cancelled[jobID] = true
	}
	return matched
}

// Cancelled reports whether the job has been flagged for cancellation.
func (q *Queue) Cancelled(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[jobID]
}

// Remove drops any state for the job: pending entries, the active
// marker, and the cancellation flag. Used by the reset operation so a
// resubmission cannot race a stale entry.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	matched := false
	kept := q.pending[:0]
	for _, item := range q.pending {
		if item.JobID == jobID {
			matched = true
			continue
		}
		kept = append(kept, item)
	}
	q.pending = kept
	if q.active == jobID {
		q.active = ""
		matched = true
	}
	delete(q.cancelled, jobID)
	if matched {
		q.signal()
	}
	return matched
}

// Wait blocks until the queue is signalled, the fallback interval
// elapses, or the context finishes. The fallback covers wake signals
// coalesced while the processor was busy.
func (q *Queue) Wait(ctx context.Context, fallback time.Duration) error {
	timer := time.NewTimer(fallback)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue wait: %w", ctx.Err())
	case <-q.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

// Snapshot returns the live queue state for the status endpoint.
func (q *Queue) Snapshot() leads.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return leads.QueueSnapshot{
		Name:        q.name,
		Running:     !q.closed,
		Processing:  q.active != "",
		ActiveJobID: q.active,
		Depth:       len(q.pending),
	}
}

// Close marks the queue closed; subsequent Enqueue calls fail and
// DequeueNext returns nothing.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
