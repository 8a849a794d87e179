package retrieve

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
)

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Catalog runs nearest-neighbor search over the service catalog.
type Catalog interface {
	Search(ctx context.Context, vector []float32, k int, filters filter.Expression) (candidate.Set, error)
}
