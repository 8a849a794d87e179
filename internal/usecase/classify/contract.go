package classify

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

// Completer runs the classification prompt.
type Completer interface {
	Complete(ctx context.Context, stage domain.Stage, messages []domain.Message) (string, error)
}
