package smartlead

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

func TestPushLeadsSendsKeyAsQueryParam(t *testing.T) {
	var got addRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/campaigns/camp-3/leads", r.URL.Path)
		require.Equal(t, "key-2", r.URL.Query().Get("api_key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"upload_count":1,"already_added_to_campaign":1}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "key-2"}, zap.NewNop())
	count, err := client.PushLeads(context.Background(), "camp-3", []leads.Lead{
		{Name: "Ada Lovelace", Email: "ada@analytical.com", LinkedIn: "https://linkedin.com/in/ada"},
		{Name: "Grace Hopper", Email: "grace@navy.mil"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, got.LeadList, 2)
	require.Equal(t, "https://linkedin.com/in/ada", got.LeadList[0].LinkedIn)
}

func TestPushLeadsDropsRowsWithoutEmail(t *testing.T) {
	var got addRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"upload_count":1}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, zap.NewNop())
	_, err := client.PushLeads(context.Background(), "camp-3", []leads.Lead{
		{Name: "No Email"},
		{Name: "Ada", Email: "ada@analytical.com"},
	})
	require.NoError(t, err)
	require.Len(t, got.LeadList, 1)
}

func TestPushLeadsUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, zap.NewNop())
	_, err := client.PushLeads(context.Background(), "camp-3", []leads.Lead{{Email: "a@b.c"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 429")
}
