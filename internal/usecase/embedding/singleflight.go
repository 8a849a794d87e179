package embedding

import (
	"context"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

// CollapsingEmbedder merges concurrent Embed calls for identical text into one inner call.
// Batch calls pass straight through.
type CollapsingEmbedder struct {
	inner domain.BatchEmbedder
	group singleflight.Group
}

// NewCollapsingEmbedder wraps inner with request collapsing.
func NewCollapsingEmbedder(inner domain.BatchEmbedder) *CollapsingEmbedder {
	return &CollapsingEmbedder{inner: inner}
}

// Embed waits for the shared call or for ctx, whichever comes first.
// The shared call is detached from any single caller's cancellation; the inner
// chain bounds it with its own timeout.
func (c *CollapsingEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	ch := c.group.DoChan(text, func() (any, error) {
		return c.inner.Embed(context.WithoutCancel(ctx), text)
	})

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.EmbeddingResult{}, res.Err
		}
		out := res.Val.(domain.EmbeddingResult)
		if res.Shared {
			// Callers own their vectors.
			out.Embedding = slices.Clone(out.Embedding)
		}
		return out, nil
	}
}

// BatchEmbed delegates to the inner embedder.
func (c *CollapsingEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return c.inner.BatchEmbed(ctx, texts)
}
