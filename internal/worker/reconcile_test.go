package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	queuememory "github.com/DavidSuperwave/leadengine/internal/queue/memory"
)

func TestReconcilerRequeuesPendingRows(t *testing.T) {
	t.Parallel()

	q := queuememory.New("verification")
	store := newFakeJobStore()
	now := time.Unix(10_000, 0)

	older := verifyJob("job-old", 2)
	older.Submitted = now.Add(-2 * time.Minute)
	newer := verifyJob("job-new", 2)
	newer.Submitted = now.Add(-1 * time.Minute)
	store.add(older)
	store.add(newer)

	r := NewReconciler(q, store, leads.KindVerify, 15*time.Minute, &fakeClock{now: now}, zap.NewNop())
	requeued, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, requeued)
	require.Equal(t, 2, q.Snapshot().Depth)
}

func TestReconcilerResetsOrphanedProcessingRows(t *testing.T) {
	t.Parallel()

	q := queuememory.New("verification")
	store := newFakeJobStore()
	now := time.Unix(100_000, 0)

	orphan := verifyJob("job-orphan", 2)
	orphan.Status = leads.JobStatusProcessing
	started := now.Add(-time.Hour)
	orphan.Started = &started
	store.add(orphan)

	fresh := verifyJob("job-fresh", 2)
	fresh.Status = leads.JobStatusProcessing
	freshStart := now.Add(-time.Minute)
	fresh.Started = &freshStart
	store.add(fresh)

	r := NewReconciler(q, store, leads.KindVerify, 15*time.Minute, &fakeClock{now: now}, zap.NewNop())
	requeued, err := r.Run(context.Background())
	require.NoError(t, err)

	// The orphan is reset to pending and requeued; the fresh row is
	// assumed owned by a live worker and left alone.
	require.Equal(t, 1, requeued)
	require.Equal(t, leads.JobStatusPending, store.status("job-orphan"))
	require.Equal(t, leads.JobStatusProcessing, store.status("job-fresh"))
}
