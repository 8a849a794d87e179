package catalog

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// Store persists catalog records and manages the vector index.
type Store interface {
	EnsureIndex(ctx context.Context) (bool, error)
	Drop(ctx context.Context, purge bool) (int, error)
	Upsert(ctx context.Context, rec *service.Record) (bool, error)
	Get(ctx context.Context, id string) (service.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]service.Record, error)
	Count(ctx context.Context) (int, error)
}

// Embedder vectorizes record texts in batches.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
