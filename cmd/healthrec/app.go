package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/config"
	dbredis "github.com/kailas-cloud/healthrec/internal/db/redis"
	"github.com/kailas-cloud/healthrec/internal/domain"
	logpkg "github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/metrics"
	catalogrepo "github.com/kailas-cloud/healthrec/internal/repository/catalog"
	"github.com/kailas-cloud/healthrec/internal/repository/embcache"
	"github.com/kailas-cloud/healthrec/internal/transport/langchain"
	openaiT "github.com/kailas-cloud/healthrec/internal/transport/openai"
	cataloguc "github.com/kailas-cloud/healthrec/internal/usecase/catalog"
	"github.com/kailas-cloud/healthrec/internal/usecase/classify"
	"github.com/kailas-cloud/healthrec/internal/usecase/compose"
	embeddinguc "github.com/kailas-cloud/healthrec/internal/usecase/embedding"
	"github.com/kailas-cloud/healthrec/internal/usecase/geofilter"
	healthuc "github.com/kailas-cloud/healthrec/internal/usecase/health"
	llmuc "github.com/kailas-cloud/healthrec/internal/usecase/llm"
	recommenduc "github.com/kailas-cloud/healthrec/internal/usecase/recommend"
	"github.com/kailas-cloud/healthrec/internal/usecase/refine"
	"github.com/kailas-cloud/healthrec/internal/usecase/rerank"
	"github.com/kailas-cloud/healthrec/internal/usecase/retrieve"
	"github.com/kailas-cloud/healthrec/internal/version"
)

// app is the composition root shared by every subcommand.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
	store  *dbredis.Store

	catalog   *catalogrepo.Repo
	embedder  domain.BatchEmbedder
	completer domain.Completer
	// Undecorated providers, probed by the health check.
	embedderBase  domain.BatchEmbedder
	completerBase domain.Completer

	recommend *recommenduc.Service
	ingest    *cataloguc.Service
	health    *healthuc.Service
}

func newApp(ctx context.Context) (*app, error) {
	env := currentEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	logger.Info("Starting healthrec",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("collection", cfg.Catalog.Collection),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Float64("relevancy_weight", cfg.Recommend.RelevancyWeight),
		zap.Int("candidate_pool_size", cfg.Recommend.CandidatePoolSize),
		zap.Int("rerank_top_k", cfg.Recommend.RerankTopK),
		zap.String("classifier_failure_policy", cfg.Recommend.ClassifierFailurePolicy),
	)

	store, err := dbredis.NewStore(dbredis.Config{
		Driver:   dbredis.Driver(cfg.Database.Driver),
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create database store: %w", err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()
	metrics.RegisterHTTPMetrics()

	a := &app{env: env, cfg: cfg, logger: logger, store: store}

	a.catalog = catalogrepo.New(store, catalogrepo.Config{
		Collection:      cfg.Catalog.Collection,
		KeyPrefix:       cfg.Catalog.KeyPrefix,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Catalog.HNSWM,
		HNSWEFConstruct: cfg.Catalog.HNSWEFConstruct,
	})
	a.embedder, a.embedderBase = buildEmbedder(cfg, store, logger)

	a.completer, a.completerBase, err = buildCompleter(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := a.buildServices(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildServices() error {
	cfg, log := a.cfg, a.logger

	a.recommend = recommenduc.New(recommenduc.Stages{
		Classifier: classify.New(a.completer, log),
		Retriever:  retrieve.New(a.embedder, a.catalog, log),
		GeoFilter:  geofilter.New(cfg.Recommend.RelevancyWeight, cfg.Recommend.DefaultRadius),
		Reranker: rerank.New(a.completer, rerank.Config{
			MaxWords:      cfg.Recommend.RerankMaxWords,
			MaxCandidates: cfg.Recommend.CandidatePoolSize,
		}, log),
		Composer:  compose.New(a.completer, cfg.Recommend.ComposeMaxWords, log),
		Questions: refine.New(a.completer, log),
		Catalog:   a.catalog,
	}, recommenduc.Config{
		PoolSize:            cfg.Recommend.CandidatePoolSize,
		TopK:                cfg.Recommend.RerankTopK,
		MaxRefinementRounds: cfg.Recommend.MaxRefinementRounds,
		ClassifierPolicy:    recommenduc.FailurePolicy(cfg.Recommend.ClassifierFailurePolicy),
	}, log)

	ingest, err := cataloguc.New(a.catalog, a.embedder, cfg.Catalog.IngestWorkers, log)
	if err != nil {
		return err
	}
	a.ingest = ingest

	a.health = healthuc.New(a.store, providerChecker(a.embedderBase), providerChecker(a.completerBase))
	return nil
}

func (a *app) close() {
	if a.ingest != nil {
		a.ingest.Close()
	}
	a.store.Close()
	_ = a.logger.Sync()
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Collapsing.
func buildEmbedder(
	cfg config.Config, store *dbredis.Store, logger *zap.Logger,
) (chain, base domain.BatchEmbedder) {
	const providerName = "openai"

	// Base provider (with transport metrics built-in)
	provider := openaiT.NewEmbedder(&openaiT.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   providerName,
		Logger:     logger,
	})

	// Cached per model
	cached := embcache.New(provider, store, embcache.Config{
		KeyPrefix: fmt.Sprintf("%semb_cache:%s:", cfg.Catalog.KeyPrefix, cfg.Embedding.Model),
		TTL:       cfg.Embedding.CacheTTL,
	}, metrics.EmbeddingCacheTotal, logger)

	instrumented := embeddinguc.NewInstrumentedEmbedder(
		cached, providerName, cfg.Embedding.Model, cfg.Embedding.Timeout, logger,
	)

	return embeddinguc.NewCollapsingEmbedder(instrumented), provider
}

// buildCompleter picks the chat backend and wraps it with per-stage timeouts and retries.
func buildCompleter(cfg config.Config, logger *zap.Logger) (chain, base domain.Completer, err error) {
	switch cfg.LLM.Provider {
	case config.LLMProviderOpenAI:
		base = openaiT.NewCompleter(&openaiT.Config{
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
			Provider: cfg.LLM.Provider,
			Logger:   logger,
		})
	default:
		lc, lcErr := langchain.New(langchain.Config{
			Provider: cfg.LLM.Provider,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			Logger:   logger,
		})
		if lcErr != nil {
			return nil, nil, fmt.Errorf("create llm backend: %w", lcErr)
		}
		base = lc
	}

	return llmuc.NewInstrumentedCompleter(base, map[domain.Stage]time.Duration{
		domain.StageClassify:  cfg.LLM.Timeouts.Classify,
		domain.StageRerank:    cfg.LLM.Timeouts.Rerank,
		domain.StageCompose:   cfg.LLM.Timeouts.Compose,
		domain.StageQuestions: cfg.LLM.Timeouts.Questions,
	}, cfg.LLM.MaxRetries, logger), base, nil
}

// providerChecker returns v's health probe, or a nil interface (not a typed nil pointer!)
// when the provider has none.
func providerChecker(v any) healthuc.ProviderChecker {
	if hc, ok := v.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}
