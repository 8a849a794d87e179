// Package llm decorates a domain.Completer with per-stage deadlines, retries and logging.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/logger"
)

const defaultRetryDelay = 250 * time.Millisecond

// InstrumentedCompleter bounds every completion by its stage timeout.
type InstrumentedCompleter struct {
	inner      domain.Completer
	timeouts   map[domain.Stage]time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewInstrumentedCompleter wraps inner. Stages missing from timeouts run without a deadline.
func NewInstrumentedCompleter(
	inner domain.Completer,
	timeouts map[domain.Stage]time.Duration,
	maxRetries int,
	log *zap.Logger,
) *InstrumentedCompleter {
	return &InstrumentedCompleter{
		inner:      inner,
		timeouts:   timeouts,
		maxRetries: max(0, maxRetries),
		retryDelay: defaultRetryDelay,
		logger:     log,
	}
}

// Complete implements domain.Completer.
func (c *InstrumentedCompleter) Complete(
	ctx context.Context, stage domain.Stage, messages []domain.Message,
) (string, error) {
	log := logger.FromContextOr(ctx, c.logger).With(zap.String("stage", string(stage)))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt, lastErr); err != nil {
				return "", fmt.Errorf("%w: %w", lastErr, err)
			}
		}

		start := time.Now()
		out, err := c.once(ctx, stage, messages)
		if err == nil {
			log.Debug("Completion finished",
				zap.Int("attempt", attempt+1),
				zap.Duration("duration", time.Since(start)),
				zap.Int("output_len", len(out)),
			)
			return out, nil
		}

		lastErr = err
		log.Warn("Completion failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *InstrumentedCompleter) once(
	ctx context.Context, stage domain.Stage, messages []domain.Message,
) (string, error) {
	if d := c.timeouts[stage]; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	out, err := c.inner.Complete(ctx, stage, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrLLMProviderError) {
			err = fmt.Errorf("%s timed out: %w: %w", stage, domain.ErrLLMProviderError, err)
		}
		return "", err
	}
	return out, nil
}

// wait backs off linearly; rate limits get a longer pause.
func (c *InstrumentedCompleter) wait(ctx context.Context, attempt int, lastErr error) error {
	d := c.retryDelay * time.Duration(attempt)
	if errors.Is(lastErr, domain.ErrRateLimited) {
		d *= 4
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
