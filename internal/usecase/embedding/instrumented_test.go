package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
)

type mockEmbedder struct {
	mu          sync.Mutex
	result      domain.EmbeddingResult
	errs        []error // consumed one per call, then nil
	batchResult domain.BatchEmbeddingResult
	calls       int
	batchCalls  int
	batchSizes  []int
	block       chan struct{}
	deadlines   []bool
}

func (m *mockEmbedder) nextErr() error {
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.calls++
	_, hasDeadline := ctx.Deadline()
	m.deadlines = append(m.deadlines, hasDeadline)
	err := m.nextErr()
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return m.result, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	m.batchSizes = append(m.batchSizes, len(texts))
	if err := m.nextErr(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if m.batchResult.Embeddings != nil {
		return m.batchResult, nil
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = m.result.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: m.result.PromptTokens * len(texts),
		TotalTokens:  m.result.TotalTokens * len(texts),
	}, nil
}

func newTestInstrumented(inner *mockEmbedder, timeout time.Duration) *InstrumentedEmbedder {
	p := NewInstrumentedEmbedder(inner, "test", "test-model", timeout, zap.NewNop())
	p.retryDelay = 0
	return p
}

func TestInstrumentedEmbedder_Success(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, TotalTokens: 7}}
	p := newTestInstrumented(inner, time.Second)

	result, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.TotalTokens != 7 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !inner.deadlines[0] {
		t.Error("expected the per-call timeout to set a deadline")
	}
}

func TestInstrumentedEmbedder_RetriesOnce(t *testing.T) {
	inner := &mockEmbedder{
		result: domain.EmbeddingResult{Embedding: []float32{1}},
		errs:   []error{domain.ErrEmbeddingProviderError},
	}
	p := newTestInstrumented(inner, 0)

	if _, err := p.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestInstrumentedEmbedder_GivesUpAfterRetry(t *testing.T) {
	inner := &mockEmbedder{errs: []error{
		domain.ErrEmbeddingProviderError,
		domain.ErrEmbeddingProviderError,
		domain.ErrEmbeddingProviderError,
	}}
	p := newTestInstrumented(inner, 0)

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestInstrumentedEmbedder_NoRetryWhenCanceled(t *testing.T) {
	inner := &mockEmbedder{errs: []error{context.Canceled}}
	p := newTestInstrumented(inner, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Chunks(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}, TotalTokens: 1}}
	p := newTestInstrumented(inner, 0)

	texts := make([]string, DefaultMaxAPIBatchSize+10)
	for i := range texts {
		texts[i] = "t"
	}

	res, err := p.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("got %d embeddings", len(res.Embeddings))
	}
	if inner.batchCalls != 2 || inner.batchSizes[0] != DefaultMaxAPIBatchSize || inner.batchSizes[1] != 10 {
		t.Errorf("batch sizes = %v", inner.batchSizes)
	}
	if res.TotalTokens != len(texts) {
		t.Errorf("TotalTokens = %d", res.TotalTokens)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Empty(t *testing.T) {
	inner := &mockEmbedder{}
	res, err := newTestInstrumented(inner, 0).BatchEmbed(context.Background(), nil)
	if err != nil || res.Embeddings != nil || inner.batchCalls != 0 {
		t.Fatalf("unexpected result %+v, %v, calls=%d", res, err, inner.batchCalls)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_CountMismatch(t *testing.T) {
	inner := &mockEmbedder{batchResult: domain.BatchEmbeddingResult{Embeddings: [][]float32{{1}}}}
	_, err := newTestInstrumented(inner, 0).BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_RetryThenFail(t *testing.T) {
	inner := &mockEmbedder{errs: []error{errors.New("a"), errors.New("b")}}
	_, err := newTestInstrumented(inner, 0).BatchEmbed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.batchCalls != 2 {
		t.Errorf("batch calls = %d, want 2", inner.batchCalls)
	}
}

func TestCollapsingEmbedder_SharesInFlightCall(t *testing.T) {
	inner := &mockEmbedder{
		result: domain.EmbeddingResult{Embedding: []float32{0.5}},
		block:  make(chan struct{}),
	}
	c := NewCollapsingEmbedder(inner)

	const n = 5
	var wg sync.WaitGroup
	var ok atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Embed(context.Background(), "same text")
			if err == nil && len(res.Embedding) == 1 {
				ok.Add(1)
			}
		}()
	}

	// Wait until the first call is in flight, then let the others pile up.
	for {
		inner.mu.Lock()
		started := inner.calls
		inner.mu.Unlock()
		if started > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(inner.block)
	wg.Wait()

	if ok.Load() != n {
		t.Errorf("successful callers = %d, want %d", ok.Load(), n)
	}
	if inner.calls >= n {
		t.Errorf("inner calls = %d, expected collapsing", inner.calls)
	}
}

func TestCollapsingEmbedder_CallerCancel(t *testing.T) {
	inner := &mockEmbedder{block: make(chan struct{})}
	c := NewCollapsingEmbedder(inner)
	defer close(inner.block)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Embed(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCollapsingEmbedder_BatchPassThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	res, err := NewCollapsingEmbedder(inner).BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil || len(res.Embeddings) != 2 || inner.batchCalls != 1 {
		t.Fatalf("unexpected %+v, %v", res, err)
	}
}
