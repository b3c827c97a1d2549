package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

const companyPage = `<!DOCTYPE html>
<html>
<head>
<title>Analytical Engines Inc</title>
<meta name="description" content="Difference engines as a service.">
</head>
<body><h1>Hello</h1></body>
</html>`

func TestEnrichFillsCompanyInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(companyPage))
	}))
	defer server.Close()

	enricher := New(Config{}, zap.NewNop())
	row, err := enricher.Enrich(context.Background(), leads.Lead{
		Company:    "Analytical",
		CompanyURL: server.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "Analytical Engines Inc - Difference engines as a service.", row.CompanyInfo)
}

func TestEnrichCachesPerURL(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(companyPage))
	}))
	defer server.Close()

	enricher := New(Config{}, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := enricher.Enrich(context.Background(), leads.Lead{CompanyURL: server.URL})
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestEnrichPassesThroughWithoutURL(t *testing.T) {
	enricher := New(Config{}, zap.NewNop())
	row, err := enricher.Enrich(context.Background(), leads.Lead{Company: "NoSite"})
	require.NoError(t, err)
	require.Empty(t, row.CompanyInfo)
}

func TestEnrichReturnsRowOnFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	enricher := New(Config{}, zap.NewNop())
	row, err := enricher.Enrich(context.Background(), leads.Lead{Company: "Broken", CompanyURL: server.URL})
	require.Error(t, err)
	require.Equal(t, "Broken", row.Company)
	require.Empty(t, row.CompanyInfo)
}
