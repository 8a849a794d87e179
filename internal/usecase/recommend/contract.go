package recommend

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// Classifier gates queries before retrieval.
type Classifier interface {
	Classify(ctx context.Context, text string) (recommendation.Category, error)
}

// Retriever builds the candidate pool.
type Retriever interface {
	Retrieve(ctx context.Context, text string, poolSize int, filters filter.Expression) (candidate.Set, error)
}

// GeoFilter restricts and re-scores candidates around a location.
type GeoFilter interface {
	Filter(candidates candidate.Set, center *geo.Point, radius *float64) candidate.Set
}

// Reranker reorders the pool with a listwise model.
type Reranker interface {
	Rerank(ctx context.Context, text string, pool candidate.Set, topK int) candidate.Set
}

// Composer writes the recommendation message.
type Composer interface {
	Compose(ctx context.Context, text string, ranked candidate.Set) (string, error)
}

// QuestionGenerator produces clarifying questions.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, text, message string) ([]string, error)
}

// CatalogReader exposes the development listing surfaces.
type CatalogReader interface {
	List(ctx context.Context) ([]service.Record, error)
	Count(ctx context.Context) (int, error)
}
