// Package retrieve embeds a query and pulls the candidate pool from the catalog.
package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/logger"
)

// DefaultPoolSize matches the re-ranker's expected input size.
const DefaultPoolSize = 20

const searchRetryDelay = 100 * time.Millisecond

// overFetch leaves room for duplicates collapsed after the search.
const overFetch = 2

// Service is the retriever.
type Service struct {
	embed      Embedder
	catalog    Catalog
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a retriever.
func New(embed Embedder, catalog Catalog, log *zap.Logger) *Service {
	return &Service{embed: embed, catalog: catalog, retryDelay: searchRetryDelay, logger: log}
}

// Retrieve returns up to poolSize candidates, best first, ties in catalog insertion order.
// An empty catalog yields an empty set.
func (s *Service) Retrieve(
	ctx context.Context, text string, poolSize int, filters filter.Expression,
) (candidate.Set, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	log := logger.FromContextOr(ctx, s.logger)

	emb, err := s.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrRetrievalUnavailable, err)
	}
	if len(emb.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", domain.ErrRetrievalUnavailable)
	}

	set, err := s.search(ctx, emb.Embedding, poolSize*overFetch, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: search catalog: %w", domain.ErrRetrievalUnavailable, err)
	}

	set.Sort()
	set, dropped := set.Dedup()
	if dropped > 0 {
		log.Debug("Collapsed duplicate candidates", zap.Int("dropped", dropped))
	}

	return set.Truncate(poolSize), nil
}

// search retries once; vector search is an idempotent read.
func (s *Service) search(
	ctx context.Context, vector []float32, k int, filters filter.Expression,
) (candidate.Set, error) {
	set, err := s.catalog.Search(ctx, vector, k, filters)
	if err == nil || ctx.Err() != nil {
		return set, err
	}

	logger.FromContextOr(ctx, s.logger).Warn("Catalog search failed, retrying", zap.Error(err))

	if s.retryDelay > 0 {
		t := time.NewTimer(s.retryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", err, ctx.Err())
		case <-t.C:
		}
	}
	return s.catalog.Search(ctx, vector, k, filters)
}
