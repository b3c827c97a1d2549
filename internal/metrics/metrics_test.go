package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

func TestObserversAfterInit(t *testing.T) {
	Init()
	require.NotPanics(t, func() {
		ObserveJob("scrape", "completed")
		SetQueueDepth("scrape", 3)
		SetQueueActive("scrape", true)
		SetQueueActive("scrape", false)
		ObserveProviderCall("mailtester", "ok", 120*time.Millisecond)
		ObserveKeyRotation()
		ObserveRateLimitRetry()
		ObserveBatchDelay(2100 * time.Millisecond)
		ObserveHTTPRequest(http.MethodPost, "/v1/scrapes", http.StatusAccepted, 5*time.Millisecond)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveJob("verification", "completed")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "leadengine_jobs_total")
}

func TestHTTPCodeBuckets(t *testing.T) {
	require.Equal(t, "2xx", httpCode(200))
	require.Equal(t, "3xx", httpCode(302))
	require.Equal(t, "4xx", httpCode(404))
	require.Equal(t, "5xx", httpCode(503))
}
