// Package storage selects a blob store backend from configuration.
// Artifacts can live in memory (dev), on the local filesystem, or in
// Google Cloud Storage.
package storage

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"

	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/storage/gcs"
	"github.com/DavidSuperwave/leadengine/internal/storage/local"
	"github.com/DavidSuperwave/leadengine/internal/storage/memory"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and parameterizes the blob store backend.
type Config struct {
	Backend  string
	LocalDir string
	Bucket   string
}

// Build constructs the configured blob store.
func Build(ctx context.Context, cfg Config) (leads.BlobStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return memory.NewBlobStore(), nil
	case BackendLocal:
		return local.New(local.Config{BaseDir: cfg.LocalDir})
	case BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
