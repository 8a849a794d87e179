package refine

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

// Completer generates follow-up questions.
type Completer interface {
	Complete(ctx context.Context, stage domain.Stage, messages []domain.Message) (string, error)
}
