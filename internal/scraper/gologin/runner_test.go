package gologin

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

type fakeProfiles struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (f *fakeProfiles) StartProfile(context.Context, string) (string, error) {
	f.starts.Add(1)
	return "ws://127.0.0.1:1/devtools/browser/none", nil
}

func (f *fakeProfiles) StopProfile(context.Context, string) error {
	f.stops.Add(1)
	return nil
}

type tickingClock struct{}

func (tickingClock) Now() time.Time { return time.Now() }

func scrapeJob(id string, pages int) leads.Job {
	return leads.Job{
		ID:     id,
		Kind:   leads.KindScrape,
		Status: leads.JobStatusProcessing,
		Scrape: &leads.ScrapeParameters{
			TargetURL: "https://app.example.com/people?titles=ceo",
			Pages:     pages,
		},
	}
}

func TestRunRejectsNonScrapeJob(t *testing.T) {
	runner := NewRunner(&fakeProfiles{}, nil, nil, tickingClock{}, RunnerConfig{}, zap.NewNop())

	job := leads.Job{ID: "job-1", Kind: leads.KindVerify, Verify: &leads.VerifyParameters{Emails: []string{"a@b.c"}}}
	_, err := runner.Run(context.Background(), job, func() bool { return false })
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a scrape job")
}

func TestRunRejectsMissingTargetURL(t *testing.T) {
	runner := NewRunner(&fakeProfiles{}, nil, nil, tickingClock{}, RunnerConfig{}, zap.NewNop())

	job := leads.Job{ID: "job-1", Kind: leads.KindScrape, Scrape: &leads.ScrapeParameters{}}
	_, err := runner.Run(context.Background(), job, func() bool { return false })
	require.Error(t, err)
	require.Contains(t, err.Error(), "no target url")
}

func TestRunCancelledBeforeStartSkipsBrowser(t *testing.T) {
	profiles := &fakeProfiles{}
	runner := NewRunner(profiles, nil, nil, tickingClock{}, RunnerConfig{}, zap.NewNop())

	outcome, err := runner.Run(context.Background(), scrapeJob("job-1", 3), func() bool { return true })
	require.NoError(t, err)
	require.True(t, outcome.Cancelled)
	require.Equal(t, 0, outcome.Processed)
	require.Equal(t, 3, outcome.Total)
	require.Equal(t, int32(0), profiles.starts.Load())
}

func TestPageURLSetsPageParameter(t *testing.T) {
	got, err := pageURL("https://app.example.com/people?titles=ceo", 2)
	require.NoError(t, err)
	require.Equal(t, "https://app.example.com/people?page=2&titles=ceo", got)
}

func TestPageURLReplacesExistingPage(t *testing.T) {
	got, err := pageURL("https://app.example.com/people?page=9", 1)
	require.NoError(t, err)
	require.Equal(t, "https://app.example.com/people?page=1", got)
}

func TestToLeadsSkipsEmptyRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []pageRow{
		{Name: "Ada Lovelace", Title: "CEO", Company: "Analytical", Email: "ada@analytical.com"},
		{},
		{Email: "anon@somewhere.com"},
	}

	got := toLeads("job-1", rows, now)
	require.Len(t, got, 2)
	for _, lead := range got {
		require.Equal(t, "job-1", lead.JobID)
		require.Equal(t, now, lead.ScrapedAt)
	}
	require.Equal(t, "Ada Lovelace", got[0].Name)
	require.Equal(t, "anon@somewhere.com", got[1].Email)
}
