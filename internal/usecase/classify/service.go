// Package classify decides whether a query is a normal service request,
// an emergency, or outside the catalog's domain.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/usecase/llm"
)

const systemPrompt = `You screen requests sent to a directory of health and community services in the Greater Toronto Area.
Classify the user's message into exactly one category:
- "emergency": an immediate threat to life or safety (medical emergency, suicidal intent, violence in progress, fire, overdose).
- "out_of_scope": unrelated to health, social, community or support services.
- "normal": everything else, including urgent but non-life-threatening needs.
If you are unsure between "emergency" and "normal", answer "emergency".
Respond with only a JSON object: {"category": "<normal|emergency|out_of_scope>"}`

// Service is the classifier gate.
type Service struct {
	llm    Completer
	logger *zap.Logger
}

// New creates a classifier.
func New(llm Completer, log *zap.Logger) *Service {
	return &Service{llm: llm, logger: log}
}

// Classify returns the gate category for text.
// Unparseable output is treated as normal; any mention of an emergency wins.
func (s *Service) Classify(ctx context.Context, text string) (recommendation.Category, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}

	out, err := s.llm.Complete(ctx, domain.StageClassify, []domain.Message{
		domain.System(systemPrompt),
		domain.User(text),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrClassificationUnavailable, err)
	}

	cat, ok := parseCategory(out)
	if !ok {
		logger.FromContextOr(ctx, s.logger).Warn("Unrecognized classifier output, treating as normal",
			zap.String("output", truncate(out, 200)),
		)
		return recommendation.CategoryNormal, nil
	}
	return cat, nil
}

// parseCategory reads {"category": ...} first, then falls back to a keyword scan.
func parseCategory(out string) (recommendation.Category, bool) {
	if obj, ok := llm.ExtractJSON(out, '{', '}'); ok {
		var parsed struct {
			Category string `json:"category"`
		}
		if json.Unmarshal([]byte(obj), &parsed) == nil {
			if cat, ok := recommendation.ParseCategory(parsed.Category); ok {
				return cat, true
			}
		}
	}

	if cat, ok := recommendation.ParseCategory(llm.StripFences(out)); ok {
		return cat, true
	}

	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "emergency"):
		return recommendation.CategoryEmergency, true
	case strings.Contains(lower, "out_of_scope"), strings.Contains(lower, "out of scope"):
		return recommendation.CategoryOutOfScope, true
	case strings.Contains(lower, "normal"):
		return recommendation.CategoryNormal, true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
