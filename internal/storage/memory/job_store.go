package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Store provides an in-memory job store and credit ledger for
// development and testing.
type Store struct {
	mu            sync.RWMutex
	jobs          map[string]leads.Job
	leadRows      map[string][]leads.Lead
	verifications map[string][]leads.VerificationResult
	credits       map[string]int64
	clock         leads.Clock
}

// NewStore constructs a Store. A nil clock falls back to time.Now.
func NewStore(clock leads.Clock) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{
		jobs:          make(map[string]leads.Job),
		leadRows:      make(map[string][]leads.Lead),
		verifications: make(map[string][]leads.VerificationResult),
		credits:       make(map[string]int64),
		clock:         clock,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job leads.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (leads.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return leads.Job{}, leads.ErrNotFound
	}
	return job, nil
}

// UpdateJobStatus transitions a job's status, stamping started_at on
// the first move into processing and finished_at on terminal states.
// A job that already reached a terminal state is never overwritten;
// only ResetJob moves it back to pending.
func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status leads.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return leads.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return leads.ErrJobTerminal
	}
	job.Status = status
	job.ErrorText = errText
	now := s.clock.Now().UTC()
	if status == leads.JobStatusProcessing && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.IsTerminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress stores the processed/total counters.
func (s *Store) UpdateJobProgress(_ context.Context, jobID string, progress leads.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return leads.ErrNotFound
	}
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// SetJobResult records the artifact URI.
func (s *Store) SetJobResult(_ context.Context, jobID string, resultURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return leads.ErrNotFound
	}
	job.ResultURI = resultURI
	s.jobs[jobID] = job
	return nil
}

// ResetJob returns a non-terminal job to pending.
func (s *Store) ResetJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return leads.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return leads.ErrJobTerminal
	}
	job.Status = leads.JobStatusPending
	job.ErrorText = ""
	job.Started = nil
	job.Finished = nil
	job.Progress.Processed = 0
	s.jobs[jobID] = job
	return nil
}

// ListJobsByStatus lists jobs of one kind in one status, oldest first.
func (s *Store) ListJobsByStatus(_ context.Context, kind leads.JobKind, status leads.JobStatus) ([]leads.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leads.Job
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out, nil
}

// RecordLeads appends scraped rows for a job.
func (s *Store) RecordLeads(_ context.Context, jobID string, rows []leads.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leadRows[jobID] = append(s.leadRows[jobID], rows...)
	return nil
}

// ListLeads returns all scraped rows for a job.
func (s *Store) ListLeads(_ context.Context, jobID string) ([]leads.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.leadRows[jobID]
	out := make([]leads.Lead, len(rows))
	copy(out, rows)
	return out, nil
}

// RecordVerifications appends verification results for a job.
func (s *Store) RecordVerifications(_ context.Context, jobID string, rows []leads.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[jobID] = append(s.verifications[jobID], rows...)
	return nil
}

// ListVerifications returns all verification results for a job.
func (s *Store) ListVerifications(_ context.Context, jobID string) ([]leads.VerificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.verifications[jobID]
	out := make([]leads.VerificationResult, len(rows))
	copy(out, rows)
	return out, nil
}

// Balance returns the owner's credit balance.
func (s *Store) Balance(_ context.Context, ownerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[ownerID], nil
}

// Add credits the owner's balance.
func (s *Store) Add(_ context.Context, ownerID string, amount int64, _ string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[ownerID] += amount
	return nil
}

// Spend debits the owner's balance, refusing overdrafts.
func (s *Store) Spend(_ context.Context, ownerID string, amount int64, _ string) error {
	if amount <= 0 {
		return fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits[ownerID] < amount {
		return leads.ErrInsufficientCredits
	}
	s.credits[ownerID] -= amount
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
