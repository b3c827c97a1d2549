package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/app"
	"github.com/DavidSuperwave/leadengine/internal/artifact"
	"github.com/DavidSuperwave/leadengine/internal/auth"
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

type stubBilling struct {
	body      []byte
	signature string
	err       error
}

func (b *stubBilling) Handle(_ context.Context, body []byte, signature string) error {
	b.body = body
	b.signature = signature
	return b.err
}

type serverFixture struct {
	server  *Server
	store   *memory.Store
	billing *stubBilling
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()
	store := memory.NewStore(fixedClock{})
	scrapeQueue := memoryqueue.New("scrape")
	verifyQueue := memoryqueue.New("verification")
	t.Cleanup(scrapeQueue.Close)
	t.Cleanup(verifyQueue.Close)

	blobs := memory.NewBlobStore()
	builder := artifact.NewBuilder(store, blobs, sha256.New(), zap.NewNop())
	registry := exporter.NewRegistry(nil)

	service := app.NewService(
		store, store, scrapeQueue, verifyQueue,
		builder, registry, &seqIDs{}, fixedClock{}, app.Config{}, zap.NewNop(),
	)
	billing := &stubBilling{}
	server := NewServer(service, auth.NewStatic([]string{"admin-1"}), billing, cfg, zap.NewNop())
	return &serverFixture{server: server, store: store, billing: billing}
}

func doRequest(t *testing.T, f *serverFixture, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitScrapeAccepted(t *testing.T) {
	f := newServerFixture(t, Config{})
	require.NoError(t, f.store.Add(context.Background(), "user-1", 100, "purchase"))

	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "user-1", map[string]any{
		"target_url": "https://app.example.com/people?titles=ceo",
		"pages":      1,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sub app.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.Equal(t, "job-1", sub.JobID)
	require.Equal(t, 1, sub.QueuePosition)
}

func TestSubmitWithoutIdentity(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "", map[string]any{
		"target_url": "https://app.example.com/people",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitWithInsufficientCredits(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodPost, "/v1/verifications", "user-1", map[string]any{
		"emails": []string{"a@b.c"},
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestSubmitScrapeBadPayload(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "user-1", map[string]any{
		"target_url": "not-a-url",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodGet, "/v1/jobs/missing", "user-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobHiddenFromOtherUsers(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, "user-1", 100, "purchase"))
	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "user-1", map[string]any{
		"target_url": "https://app.example.com/people",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, f, http.MethodGet, "/v1/jobs/job-1", "user-2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, f, http.MethodGet, "/v1/jobs/job-1", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job leads.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, leads.JobStatusPending, job.Status)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newServerFixture(t, Config{})
	require.NoError(t, f.store.Add(context.Background(), "user-1", 100, "purchase"))
	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "user-1", map[string]any{
		"target_url": "https://app.example.com/people",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, f, http.MethodPost, "/v1/jobs/job-1/cancel", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job leads.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, leads.JobStatusCancelled, job.Status)
}

func TestResetRequiresAdmin(t *testing.T) {
	f := newServerFixture(t, Config{})
	require.NoError(t, f.store.Add(context.Background(), "user-1", 100, "purchase"))
	rec := doRequest(t, f, http.MethodPost, "/v1/scrapes", "user-1", map[string]any{
		"target_url": "https://app.example.com/people",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, f, http.MethodPost, "/v1/jobs/job-1/reset", "user-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, f, http.MethodPost, "/v1/jobs/job-1/reset", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueSnapshotRequiresAdmin(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodGet, "/v1/queues/scrape", "user-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, f, http.MethodGet, "/v1/queues/scrape", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap leads.QueueSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Zero(t, snap.Depth)
}

func TestCreditsBalance(t *testing.T) {
	f := newServerFixture(t, Config{})
	require.NoError(t, f.store.Add(context.Background(), "user-1", 40, "purchase"))

	rec := doRequest(t, f, http.MethodGet, "/v1/credits", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"balance":40}`, rec.Body.String())
}

func TestAPIKeyRequired(t *testing.T) {
	f := newServerFixture(t, Config{APIKey: "secret", AuthEnabled: true})

	rec := doRequest(t, f, http.MethodGet, "/v1/credits", "user-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
}

func TestWhopWebhook(t *testing.T) {
	f := newServerFixture(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/whop", bytes.NewBufferString(`{"action":"payment.succeeded"}`))
	req.Header.Set("X-Whop-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sha256=deadbeef", f.billing.signature)
	require.JSONEq(t, `{"action":"payment.succeeded"}`, string(f.billing.body))
}

func TestWhopWebhookRejected(t *testing.T) {
	f := newServerFixture(t, Config{})
	f.billing.err = errors.New("bad signature")

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/whop", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := doRequest(t, f, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
