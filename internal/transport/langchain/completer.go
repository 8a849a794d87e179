// Package langchain adapts langchaingo chat models to domain.Completer,
// covering OpenAI-compatible servers and local Ollama models.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/metrics"
)

// Config selects and configures the backing model.
type Config struct {
	Provider string // "compatible" or "ollama"
	BaseURL  string
	APIKey   string
	Model    string
	Logger   *zap.Logger
}

// Completer implements domain.Completer over any llms.Model.
type Completer struct {
	model    llms.Model
	provider string
	logger   *zap.Logger
}

// New builds the langchaingo model for cfg.Provider.
func New(cfg Config) (*Completer, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case "compatible":
		token := cfg.APIKey
		if token == "" {
			// Local OpenAI-compatible servers accept any token.
			token = "none"
		}
		model, err = lcopenai.New(
			lcopenai.WithBaseURL(cfg.BaseURL),
			lcopenai.WithToken(token),
			lcopenai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported langchain provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg.Provider, cfg.Logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, provider string, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{model: model, provider: provider, logger: logger}
}

// Complete runs a deterministic (temperature 0) generation and returns the first choice.
func (c *Completer) Complete(ctx context.Context, stage domain.Stage, messages []domain.Message) (string, error) {
	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.MessageContent{
			Role:  chatType(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		}
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, string(stage), "error").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s generate: %w: %w", c.provider, domain.ErrLLMProviderError, err)
		}
		return "", fmt.Errorf("%s generate: %v: %w", c.provider, err, domain.ErrLLMProviderError)
	}
	metrics.LLMRequestDuration.WithLabelValues(c.provider, string(stage)).Observe(time.Since(start).Seconds())

	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, string(stage), "empty").Inc()
		c.logger.Debug("No choices returned from model", zap.String("stage", string(stage)))
		return "", fmt.Errorf("%s returned no choices: %w", c.provider, domain.ErrLLMProviderError)
	}

	metrics.LLMRequestsTotal.WithLabelValues(c.provider, string(stage), "success").Inc()
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func chatType(r domain.Role) llms.ChatMessageType {
	switch r {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
