package rerank

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

// Completer runs the listwise ranking prompt.
type Completer interface {
	Complete(ctx context.Context, stage domain.Stage, messages []domain.Message) (string, error)
}
