package compose

import (
	"context"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

// Completer writes the recommendation narrative.
type Completer interface {
	Complete(ctx context.Context, stage domain.Stage, messages []domain.Message) (string, error)
}
