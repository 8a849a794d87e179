// Package rerank reorders a candidate pool with a listwise language-model judgment
// (permutation generation in the style of RankGPT).
package rerank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/metrics"
)

// Defaults for the ranking prompt.
const (
	DefaultTopK          = 5
	DefaultMaxWords      = 150
	DefaultMaxCandidates = 20
)

// Degradation reasons reported in logs and metrics.
const (
	reasonLLMError  = "llm_error"
	reasonMalformed = "malformed"
)

var errMalformed = errors.New("malformed ranking")

// Config tunes the re-ranker.
type Config struct {
	MaxWords      int // per-candidate context in the prompt
	MaxCandidates int // larger pools are truncated before prompting
}

// Service is the re-ranker. It never fails: on any problem it returns the input order.
type Service struct {
	llm    Completer
	cfg    Config
	logger *zap.Logger
}

// New creates a re-ranker.
func New(llm Completer, cfg Config, log *zap.Logger) *Service {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Service{llm: llm, cfg: cfg, logger: log}
}

// Rerank returns at most topK candidates from the pool in model-determined order.
// The result is always a subset of the input.
func (s *Service) Rerank(ctx context.Context, text string, pool candidate.Set, topK int) candidate.Set {
	if topK <= 0 {
		topK = DefaultTopK
	}
	pool = pool.Truncate(s.cfg.MaxCandidates)
	if len(pool) <= 1 {
		return pool.Clone()
	}

	log := logger.FromContextOr(ctx, s.logger)

	out, err := s.llm.Complete(ctx, domain.StageRerank, s.prompt(text, pool))
	if err != nil {
		return s.degrade(log, pool, topK, reasonLLMError, err)
	}

	order, err := parseRanking(out, len(pool))
	if err != nil {
		return s.degrade(log, pool, topK, reasonMalformed, fmt.Errorf("%w: %q", err, out))
	}

	ranked := make(candidate.Set, 0, min(topK, len(order)))
	for _, idx := range order[:min(topK, len(order))] {
		ranked = append(ranked, pool[idx])
	}
	return ranked
}

func (s *Service) degrade(log *zap.Logger, pool candidate.Set, topK int, reason string, err error) candidate.Set {
	metrics.RerankDegradedTotal.WithLabelValues(reason).Inc()
	log.Warn("Re-rank degraded, keeping retrieval order",
		zap.String("reason", reason),
		zap.Int("pool", len(pool)),
		zap.Error(err),
	)
	return pool.Truncate(topK).Clone()
}

func (s *Service) prompt(text string, pool candidate.Set) []domain.Message {
	msgs := make([]domain.Message, 0, 2*len(pool)+4)
	msgs = append(msgs,
		domain.System("You are a health service recommender that ranks services based on their relevance "+
			"to a user's query. Respond only with the ranked service numbers in descending order of relevance, "+
			"separated by '>'."),
		domain.User(fmt.Sprintf("I will provide you with %d services, each indicated by a number identifier []. "+
			"Rank these services based on their relevance to the query: %s", len(pool), text)),
		domain.Assistant("I'll rank the services. Please provide them."),
	)
	for i := range pool {
		n := i + 1
		msgs = append(msgs,
			domain.User(fmt.Sprintf("[%d] %s", n, pool[i].Record.Summary(s.cfg.MaxWords))),
			domain.Assistant(fmt.Sprintf("Received service [%d].", n)),
		)
	}
	msgs = append(msgs, domain.User(fmt.Sprintf(
		"For the query %q, rank the services from most to least relevant. "+
			"Respond only with service numbers in the format: [X] > [Y] > [Z]", text)))
	return msgs
}

// parseRanking reads 1-based ids in order of appearance and returns 0-based indices
// covering the whole pool. Missing ids are appended in input order.
// Out-of-range ids, repeated ids or no ids at all are malformed.
func parseRanking(resp string, n int) ([]int, error) {
	fields := strings.FieldsFunc(resp, func(r rune) bool { return !unicode.IsDigit(r) })
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no ids", errMalformed)
	}

	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil || id < 1 || id > n {
			return nil, fmt.Errorf("%w: id %s out of range 1..%d", errMalformed, f, n)
		}
		if seen[id-1] {
			return nil, fmt.Errorf("%w: id %d repeated", errMalformed, id)
		}
		seen[id-1] = true
		order = append(order, id-1)
	}

	for i, ok := range seen {
		if !ok {
			order = append(order, i)
		}
	}
	return order, nil
}
