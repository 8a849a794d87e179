// Package recommend orchestrates the recommendation pipeline:
// classify, retrieve, geo filter, optional rerank, compose.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/query"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
	"github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/metrics"
	"github.com/kailas-cloud/healthrec/internal/usecase/refine"
)

// FailurePolicy decides what happens when the classifier cannot be reached.
type FailurePolicy string

// Classifier failure policies.
const (
	// PolicyOpen proceeds as if the query were normal.
	PolicyOpen FailurePolicy = "open"
	// PolicyClosed answers with the emergency guidance.
	PolicyClosed FailurePolicy = "closed"
	// PolicyFail returns the classifier error.
	PolicyFail FailurePolicy = "fail"
)

// Config tunes the pipeline.
type Config struct {
	PoolSize            int
	TopK                int
	MaxRefinementRounds int
	ClassifierPolicy    FailurePolicy
}

// Defaults.
const (
	DefaultPoolSize            = 20
	DefaultTopK                = 5
	DefaultMaxRefinementRounds = 5
)

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MaxRefinementRounds <= 0 {
		c.MaxRefinementRounds = DefaultMaxRefinementRounds
	}
	if c.ClassifierPolicy == "" {
		c.ClassifierPolicy = PolicyOpen
	}
}

// Outcome labels for the recommendations counter.
const (
	outcomeFound      = "found"
	outcomeNoneFound  = "none_found"
	outcomeEmergency  = "emergency"
	outcomeOutOfScope = "out_of_scope"
	outcomeError      = "error"
)

// Service runs the recommendation pipeline. It holds no per-request state.
type Service struct {
	classifier Classifier
	retriever  Retriever
	geo        GeoFilter
	reranker   Reranker
	composer   Composer
	questions  QuestionGenerator
	catalog    CatalogReader
	cfg        Config
	logger     *zap.Logger
}

// Stages bundles the pipeline collaborators.
type Stages struct {
	Classifier Classifier
	Retriever  Retriever
	GeoFilter  GeoFilter
	Reranker   Reranker
	Composer   Composer
	Questions  QuestionGenerator
	Catalog    CatalogReader
}

// New creates the pipeline.
func New(stages Stages, cfg Config, log *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		classifier: stages.Classifier,
		retriever:  stages.Retriever,
		geo:        stages.GeoFilter,
		reranker:   stages.Reranker,
		composer:   stages.Composer,
		questions:  stages.Questions,
		catalog:    stages.Catalog,
		cfg:        cfg,
		logger:     log,
	}
}

// Recommend runs the full pipeline for one query.
// Stage failures return an error and never a partial recommendation.
func (s *Service) Recommend(ctx context.Context, q query.Query) (recommendation.Recommendation, error) {
	rec, outcome, err := s.recommend(ctx, q)
	switch {
	case err != nil:
		outcome = outcomeError
	case rec.Gated():
		logger.FromContextOr(ctx, s.logger).Info("Query gated by classifier",
			zap.Bool("emergency", rec.IsEmergency),
			zap.Bool("out_of_scope", rec.IsOutOfScope),
		)
	}
	metrics.RecommendationsTotal.WithLabelValues(outcome).Inc()
	return rec, err
}

func (s *Service) recommend(ctx context.Context, q query.Query) (recommendation.Recommendation, string, error) {
	if err := q.Validate(); err != nil {
		return recommendation.Recommendation{}, "", err
	}
	log := logger.FromContextOr(ctx, s.logger)

	category, err := s.classify(ctx, log, q.Text)
	if err != nil {
		return recommendation.Recommendation{}, "", err
	}
	switch category {
	case recommendation.CategoryEmergency:
		return recommendation.Emergency(), outcomeEmergency, nil
	case recommendation.CategoryOutOfScope:
		return recommendation.OutOfScope(), outcomeOutOfScope, nil
	}

	start := time.Now()
	pool, err := s.retriever.Retrieve(ctx, q.Text, s.cfg.PoolSize, q.Filters)
	observe("retrieve", start)
	if err != nil {
		return recommendation.Recommendation{}, "", err
	}

	start = time.Now()
	filtered := s.geo.Filter(pool, q.Location, q.EffectiveRadius())
	observe("geo_filter", start)

	var ranked candidate.Set
	switch {
	case len(filtered) == 0:
		ranked = candidate.Set{}
	case q.Rerank:
		start = time.Now()
		ranked = s.reranker.Rerank(ctx, q.Text, filtered, s.cfg.TopK)
		observe("rerank", start)
	default:
		ranked = filtered.Truncate(s.cfg.TopK)
	}

	start = time.Now()
	msg, err := s.composer.Compose(ctx, q.Text, ranked)
	observe("compose", start)
	if err != nil {
		return recommendation.Recommendation{}, "", err
	}

	log.Debug("Recommendation composed",
		zap.Int("pool", len(pool)),
		zap.Int("after_geo", len(filtered)),
		zap.Strings("service_ids", ranked.IDs()),
		zap.Bool("rerank", q.Rerank),
	)

	if len(ranked) == 0 {
		return recommendation.NoneFound(msg), outcomeNoneFound, nil
	}
	return recommendation.Found(msg, ranked.Records()), outcomeFound, nil
}

// classify applies the configured failure policy to classifier errors.
func (s *Service) classify(ctx context.Context, log *zap.Logger, text string) (recommendation.Category, error) {
	start := time.Now()
	category, err := s.classifier.Classify(ctx, text)
	observe("classify", start)
	if err == nil {
		return category, nil
	}
	if errors.Is(err, domain.ErrInvalidInput) || ctx.Err() != nil {
		return "", err
	}

	switch s.cfg.ClassifierPolicy {
	case PolicyFail:
		return "", err
	case PolicyClosed:
		metrics.ClassifierFallbackTotal.Inc()
		log.Warn("Classifier unavailable, treating query as emergency", zap.Error(err))
		return recommendation.CategoryEmergency, nil
	default:
		metrics.ClassifierFallbackTotal.Inc()
		log.Warn("Classifier unavailable, treating query as normal", zap.Error(err))
		return recommendation.CategoryNormal, nil
	}
}

// GenerateQuestions returns clarifying questions for a query and the recommendation it received.
func (s *Service) GenerateQuestions(ctx context.Context, text, message string) ([]string, error) {
	start := time.Now()
	defer observe("questions", start)
	return s.questions.GenerateQuestions(ctx, text, message)
}

// RefineRecommend reruns the pipeline on the query augmented with the answered questions.
// With nothing answered the result equals Recommend on the original query.
func (s *Service) RefineRecommend(ctx context.Context, req recommendation.RefineRequest) (recommendation.Recommendation, error) {
	if req.Round < 0 || req.Round > s.cfg.MaxRefinementRounds {
		return recommendation.Recommendation{}, fmt.Errorf("%w: refinement round %d outside 0..%d",
			domain.ErrInvalidInput, req.Round, s.cfg.MaxRefinementRounds)
	}
	if len(req.Questions) != len(req.Answers) {
		return recommendation.Recommendation{}, fmt.Errorf("%w: %d answers for %d questions",
			domain.ErrInvalidInput, len(req.Answers), len(req.Questions))
	}
	return s.Recommend(ctx, refine.AugmentQuery(req.Query, req.Questions, req.Answers))
}

// ListAll returns every catalog record in insertion order.
func (s *Service) ListAll(ctx context.Context) ([]service.Record, error) {
	recs, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return recs, nil
}

// Count returns the catalog size.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.catalog.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count services: %w", err)
	}
	return n, nil
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
