// Package artifact builds CSV exports for completed jobs and stores
// them in the configured blob store.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Builder renders job results to CSV, hashes the content and uploads
// the file. The resulting URI is recorded on the job.
type Builder struct {
	store  leads.JobStore
	blobs  leads.BlobStore
	hasher leads.Hasher
	logger *zap.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(store leads.JobStore, blobs leads.BlobStore, hasher leads.Hasher, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		store:  store,
		blobs:  blobs,
		hasher: hasher,
		logger: logger.Named("artifact"),
	}
}

// Export builds the CSV for a completed job, uploads it and records
// the URI. Jobs that already have an artifact return the existing URI.
func (b *Builder) Export(ctx context.Context, job leads.Job) (string, error) {
	if job.Status != leads.JobStatusCompleted {
		return "", fmt.Errorf("job %s is %s, only completed jobs export", job.ID, job.Status)
	}
	if job.ResultURI != "" {
		return job.ResultURI, nil
	}

	data, err := b.render(ctx, job)
	if err != nil {
		return "", err
	}

	digest, err := b.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	path := fmt.Sprintf("exports/%s/%s.csv", job.Kind, job.ID)
	uri, err := b.blobs.PutObject(ctx, path, "text/csv", data)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if err := b.store.SetJobResult(ctx, job.ID, uri); err != nil {
		return "", fmt.Errorf("record artifact uri: %w", err)
	}

	b.logger.Info("artifact exported",
		zap.String("job_id", job.ID),
		zap.String("uri", uri),
		zap.String("sha256", digest),
		zap.Int("bytes", len(data)))
	return uri, nil
}

func (b *Builder) render(ctx context.Context, job leads.Job) ([]byte, error) {
	switch job.Kind {
	case leads.KindScrape:
		rows, err := b.store.ListLeads(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("load leads: %w", err)
		}
		return renderLeads(rows)
	case leads.KindVerify:
		rows, err := b.store.ListVerifications(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("load verifications: %w", err)
		}
		return renderVerifications(rows)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func renderLeads(rows []leads.Lead) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"name", "title", "company", "company_url", "company_info", "email", "linkedin", "scraped_at"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Name, row.Title, row.Company, row.CompanyURL,
			row.CompanyInfo, row.Email, row.LinkedIn,
			row.ScrapedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderVerifications(rows []leads.VerificationResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"email", "classification", "provider_code", "checked_at"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Email, string(row.Classification), row.ProviderCode,
			row.CheckedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
