package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/artifact"
	"github.com/DavidSuperwave/leadengine/internal/exporter"
	"github.com/DavidSuperwave/leadengine/internal/hash/sha256"
	"github.com/DavidSuperwave/leadengine/internal/leads"
	memoryqueue "github.com/DavidSuperwave/leadengine/internal/queue/memory"
	"github.com/DavidSuperwave/leadengine/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type stubExporter struct {
	campaign string
	rows     []leads.Lead
}

func (s *stubExporter) PushLeads(_ context.Context, campaignID string, rows []leads.Lead) (int, error) {
	s.campaign = campaignID
	s.rows = rows
	return len(rows), nil
}

type fixture struct {
	service     *Service
	store       *memory.Store
	scrapeQueue *memoryqueue.Queue
	verifyQueue *memoryqueue.Queue
	tool        *stubExporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore(fixedClock{})
	scrapeQueue := memoryqueue.New("scrape")
	verifyQueue := memoryqueue.New("verification")
	t.Cleanup(scrapeQueue.Close)
	t.Cleanup(verifyQueue.Close)

	blobs := memory.NewBlobStore()
	builder := artifact.NewBuilder(store, blobs, sha256.New(), zap.NewNop())
	tool := &stubExporter{}
	registry := exporter.NewRegistry(map[string]exporter.Exporter{"instantly": tool})

	service := NewService(
		store, store, scrapeQueue, verifyQueue,
		builder, registry, &seqIDs{}, fixedClock{}, Config{}, zap.NewNop(),
	)
	return &fixture{
		service:     service,
		store:       store,
		scrapeQueue: scrapeQueue,
		verifyQueue: verifyQueue,
		tool:        tool,
	}
}

func TestSubmitScrapeChargesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitScrape(ctx, "user-1", leads.ScrapeParameters{
		TargetURL: "https://app.example.com/people?titles=ceo",
		Pages:     1,
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", sub.JobID)
	require.Equal(t, 1, sub.QueuePosition)

	balance, err := f.store.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(75), balance)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusPending, job.Status)
	require.Equal(t, 1, f.scrapeQueue.Snapshot().Depth)
}

func TestSubmitWithInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.ErrorIs(t, err, leads.ErrInsufficientCredits)
	require.Zero(t, f.verifyQueue.Snapshot().Depth)
}

// raceStore lets a test interleave a status write behind the service's
// back, between its ownership read and the queue operation.
type raceStore struct {
	*memory.Store
	mu       sync.Mutex
	afterGet func()
}

func (r *raceStore) GetJob(ctx context.Context, jobID string) (leads.Job, error) {
	job, err := r.Store.GetJob(ctx, jobID)
	r.mu.Lock()
	hook := r.afterGet
	r.afterGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return job, err
}

func TestCancelRacingCompletionKeepsCompleted(t *testing.T) {
	ctx := context.Background()
	store := &raceStore{Store: memory.NewStore(fixedClock{})}
	scrapeQueue := memoryqueue.New("scrape")
	verifyQueue := memoryqueue.New("verification")
	t.Cleanup(scrapeQueue.Close)
	t.Cleanup(verifyQueue.Close)

	blobs := memory.NewBlobStore()
	builder := artifact.NewBuilder(store, blobs, sha256.New(), zap.NewNop())
	service := NewService(
		store, store.Store, scrapeQueue, verifyQueue,
		builder, exporter.NewRegistry(nil), &seqIDs{}, fixedClock{}, Config{}, zap.NewNop(),
	)

	require.NoError(t, store.Add(ctx, "user-1", 100, "purchase"))
	_, err := service.SubmitScrape(ctx, "user-1", leads.ScrapeParameters{
		TargetURL: "https://app.example.com/people",
	})
	require.NoError(t, err)

	item, ok := scrapeQueue.DequeueNext()
	require.True(t, ok)

	// The worker finishes right after Cancel reads the job and before it
	// touches the queue.
	store.afterGet = func() {
		require.NoError(t, store.Store.UpdateJobStatus(ctx, item.JobID, leads.JobStatusCompleted, ""))
		scrapeQueue.Finish(item.JobID)
	}

	job, err := service.Cancel(ctx, "user-1", leads.RoleUser, item.JobID)
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusCompleted, job.Status)

	job, err = store.Store.GetJob(ctx, item.JobID)
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusCompleted, job.Status)
}

func TestSubmitScrapeRejectsBadURL(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitScrape(context.Background(), "user-1", leads.ScrapeParameters{
		TargetURL: "not-a-url",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitVerificationRejectsMalformedEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitVerification(context.Background(), "user-1", leads.VerifyParameters{
		Emails: []string{"not an email"},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelQueuedJobPersistsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)

	job, err := f.service.Cancel(ctx, "user-1", leads.RoleUser, sub.JobID)
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusCancelled, job.Status)
	require.Zero(t, f.verifyQueue.Snapshot().Depth)
}

func TestCancelFinishedJobIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateJobStatus(ctx, sub.JobID, leads.JobStatusCompleted, ""))

	job, err := f.service.Cancel(ctx, "user-1", leads.RoleUser, sub.JobID)
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusCompleted, job.Status)
}

func TestForeignJobReadsAsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)

	_, err = f.service.GetJob(ctx, "user-2", leads.RoleUser, sub.JobID)
	require.ErrorIs(t, err, leads.ErrNotFound)

	// Admins see everything.
	_, err = f.service.GetJob(ctx, "user-2", leads.RoleAdmin, sub.JobID)
	require.NoError(t, err)
}

func TestResetRequeuesStuckJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)

	// Simulate a worker claim that never finished.
	item, ok := f.verifyQueue.DequeueNext()
	require.True(t, ok)
	require.Equal(t, sub.JobID, item.JobID)
	require.NoError(t, f.store.UpdateJobStatus(ctx, sub.JobID, leads.JobStatusProcessing, ""))

	job, err := f.service.Reset(ctx, sub.JobID)
	require.NoError(t, err)
	require.Equal(t, leads.JobStatusPending, job.Status)

	snap := f.verifyQueue.Snapshot()
	require.Equal(t, 1, snap.Depth)
	require.Empty(t, snap.ActiveJobID)
}

func TestPushSendsOnlyValidEmails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c", "d@e.f"},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.RecordVerifications(ctx, sub.JobID, []leads.VerificationResult{
		{JobID: sub.JobID, Email: "a@b.c", Classification: leads.ClassValid, CheckedAt: testNow},
		{JobID: sub.JobID, Email: "d@e.f", Classification: leads.ClassInvalid, CheckedAt: testNow},
	}))
	require.NoError(t, f.store.UpdateJobStatus(ctx, sub.JobID, leads.JobStatusCompleted, ""))

	count, err := f.service.Push(ctx, "user-1", leads.RoleUser, sub.JobID, "instantly", "camp-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, "camp-1", f.tool.campaign)
	require.Len(t, f.tool.rows, 1)
	require.Equal(t, "a@b.c", f.tool.rows[0].Email)
}

func TestPushRejectsUnknownTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateJobStatus(ctx, sub.JobID, leads.JobStatusCompleted, ""))

	_, err = f.service.Push(ctx, "user-1", leads.RoleUser, sub.JobID, "hubspot", "camp-1")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestQueueSnapshotUnknownQueue(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.QueueSnapshot("emails")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestExportCompletedJobReturnsURI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))

	sub, err := f.service.SubmitVerification(ctx, "user-1", leads.VerifyParameters{
		Emails: []string{"a@b.c"},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.RecordVerifications(ctx, sub.JobID, []leads.VerificationResult{
		{JobID: sub.JobID, Email: "a@b.c", Classification: leads.ClassValid, CheckedAt: testNow},
	}))
	require.NoError(t, f.store.UpdateJobStatus(ctx, sub.JobID, leads.JobStatusCompleted, ""))

	uri, err := f.service.Export(ctx, "user-1", leads.RoleUser, sub.JobID)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("memory://exports/verification/%s.csv", sub.JobID), uri)
}
