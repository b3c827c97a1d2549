package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

func verifyJob(id string, emails ...string) leads.Job {
	return leads.Job{
		ID:      id,
		OwnerID: "owner-1",
		Kind:    leads.KindVerify,
		Status:  leads.JobStatusProcessing,
		Verify:  &leads.VerifyParameters{Emails: emails},
	}
}

func TestRunnerVerifiesAllEmails(t *testing.T) {
	t.Parallel()

	fake := &fakeVerifier{}
	store := newRecordingStore()
	r := NewRunner(fake, store, realClock{}, Config{BatchSize: 2, BatchDelay: time.Millisecond}, zap.NewNop())

	job := verifyJob("job-1", "a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com")
	outcome, err := r.Run(context.Background(), job, never)
	require.NoError(t, err)
	require.Equal(t, 5, outcome.Processed)
	require.Equal(t, 5, outcome.Total)
	require.False(t, outcome.Cancelled)

	require.Len(t, store.results("job-1"), 5)
	require.Equal(t, leads.Progress{Processed: 5, Total: 5}, store.lastProgress)
}

func TestRunnerBoundsBatchConcurrency(t *testing.T) {
	t.Parallel()

	fake := &fakeVerifier{delay: 30 * time.Millisecond}
	store := newRecordingStore()
	r := NewRunner(fake, store, realClock{}, Config{BatchSize: 3, BatchDelay: time.Millisecond}, zap.NewNop())

	emails := make([]string, 9)
	for i := range emails {
		emails[i] = "person@x.com"
	}
	_, err := r.Run(context.Background(), verifyJob("job-2", emails...), never)
	require.NoError(t, err)
	require.LessOrEqual(t, fake.maxConcurrent(), 3)
}

func TestRunnerRecordsFailedVerifyAsUnknown(t *testing.T) {
	t.Parallel()

	fake := &fakeVerifier{errFor: map[string]error{"broken@x.com": errors.New("boom")}}
	store := newRecordingStore()
	r := NewRunner(fake, store, realClock{}, Config{BatchSize: 10, BatchDelay: time.Millisecond}, zap.NewNop())

	outcome, err := r.Run(context.Background(), verifyJob("job-3", "ok@x.com", "broken@x.com"), never)
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Processed)

	results := store.results("job-3")
	require.Len(t, results, 2)
	byEmail := map[string]leads.Classification{}
	for _, res := range results {
		byEmail[res.Email] = res.Classification
	}
	require.Equal(t, leads.ClassValid, byEmail["ok@x.com"])
	require.Equal(t, leads.ClassUnknown, byEmail["broken@x.com"])
}

func TestRunnerStopsAtCancellationCheckpoint(t *testing.T) {
	t.Parallel()

	fake := &fakeVerifier{}
	store := newRecordingStore()
	r := NewRunner(fake, store, realClock{}, Config{BatchSize: 2, BatchDelay: time.Millisecond}, zap.NewNop())

	// Cancel after the first batch boundary.
	var checks int
	cancelled := func() bool {
		checks++
		return checks > 1
	}
	outcome, err := r.Run(context.Background(), verifyJob("job-4", "a@x.com", "b@x.com", "c@x.com", "d@x.com"), cancelled)
	require.NoError(t, err)
	require.True(t, outcome.Cancelled)
	require.Equal(t, 2, outcome.Processed)
	require.Len(t, store.results("job-4"), 2)
}

func TestRunnerRejectsEmptyJob(t *testing.T) {
	t.Parallel()

	r := NewRunner(&fakeVerifier{}, newRecordingStore(), realClock{}, Config{}, zap.NewNop())
	_, err := r.Run(context.Background(), leads.Job{ID: "job-5"}, never)
	require.Error(t, err)
}

func never() bool { return false }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type fakeVerifier struct {
	mu      sync.Mutex
	delay   time.Duration
	errFor  map[string]error
	current int
	peak    int
}

func (f *fakeVerifier) Verify(_ context.Context, email string) (leads.VerificationResult, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.current--
	err := f.errFor[email]
	f.mu.Unlock()

	if err != nil {
		return leads.VerificationResult{}, err
	}
	return leads.VerificationResult{
		Email:          email,
		Classification: leads.ClassValid,
		ProviderCode:   "ok",
		CheckedAt:      time.Now(),
	}, nil
}

func (f *fakeVerifier) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type recordingStore struct {
	mu           sync.Mutex
	rows         map[string][]leads.VerificationResult
	lastProgress leads.Progress
}

func newRecordingStore() *recordingStore {
	return &recordingStore{rows: make(map[string][]leads.VerificationResult)}
}

func (s *recordingStore) CreateJob(context.Context, leads.Job) error        { return nil }
func (s *recordingStore) GetJob(context.Context, string) (leads.Job, error) { return leads.Job{}, nil }
func (s *recordingStore) UpdateJobStatus(context.Context, string, leads.JobStatus, string) error {
	return nil
}

func (s *recordingStore) UpdateJobProgress(_ context.Context, _ string, progress leads.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProgress = progress
	return nil
}

func (s *recordingStore) SetJobResult(context.Context, string, string) error { return nil }
func (s *recordingStore) ResetJob(context.Context, string) error             { return nil }
func (s *recordingStore) ListJobsByStatus(context.Context, leads.JobKind, leads.JobStatus) ([]leads.Job, error) {
	return nil, nil
}
func (s *recordingStore) RecordLeads(context.Context, string, []leads.Lead) error { return nil }
func (s *recordingStore) ListLeads(context.Context, string) ([]leads.Lead, error) {
	return nil, nil
}

func (s *recordingStore) RecordVerifications(_ context.Context, jobID string, rows []leads.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[jobID] = append(s.rows[jobID], rows...)
	return nil
}

func (s *recordingStore) ListVerifications(_ context.Context, jobID string) ([]leads.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[jobID], nil
}

func (s *recordingStore) results(jobID string) []leads.VerificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]leads.VerificationResult, len(s.rows[jobID]))
	copy(out, s.rows[jobID])
	return out
}
