package classify

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
)

type mockCompleter struct {
	out      string
	err      error
	calls    int
	stage    domain.Stage
	messages []domain.Message
}

func (m *mockCompleter) Complete(_ context.Context, stage domain.Stage, messages []domain.Message) (string, error) {
	m.calls++
	m.stage = stage
	m.messages = messages
	return m.out, m.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want recommendation.Category
	}{
		{"json normal", `{"category": "normal"}`, recommendation.CategoryNormal},
		{"json emergency", `{"category": "emergency"}`, recommendation.CategoryEmergency},
		{"json out of scope", `{"category": "out_of_scope"}`, recommendation.CategoryOutOfScope},
		{"fenced", "```json\n{\"category\": \"out-of-scope\"}\n```", recommendation.CategoryOutOfScope},
		{"bare label", "Emergency", recommendation.CategoryEmergency},
		{"prose emergency wins", "This is normal but could be an emergency.", recommendation.CategoryEmergency},
		{"prose out of scope", "The request is out of scope.", recommendation.CategoryOutOfScope},
		{"garbage", "¯\\_(ツ)_/¯", recommendation.CategoryNormal},
		{"empty output", "", recommendation.CategoryNormal},
		{"unknown json label", `{"category": "maybe"}`, recommendation.CategoryNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockCompleter{out: tt.out}
			got, err := New(m, zap.NewNop()).Classify(context.Background(), "I need help")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_Prompt(t *testing.T) {
	m := &mockCompleter{out: `{"category":"normal"}`}
	if _, err := New(m, zap.NewNop()).Classify(context.Background(), "  food bank  "); err != nil {
		t.Fatal(err)
	}
	if m.stage != domain.StageClassify {
		t.Errorf("stage = %q", m.stage)
	}
	if len(m.messages) != 2 || m.messages[0].Role != domain.RoleSystem || m.messages[1].Content != "food bank" {
		t.Errorf("messages = %+v", m.messages)
	}
}

func TestClassify_EmptyText(t *testing.T) {
	m := &mockCompleter{}
	_, err := New(m, zap.NewNop()).Classify(context.Background(), " \n\t")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if m.calls != 0 {
		t.Error("model must not be called for empty text")
	}
}

func TestClassify_Unavailable(t *testing.T) {
	m := &mockCompleter{err: domain.ErrLLMProviderError}
	_, err := New(m, zap.NewNop()).Classify(context.Background(), "help")
	if !errors.Is(err, domain.ErrClassificationUnavailable) {
		t.Fatalf("expected ErrClassificationUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrLLMProviderError) {
		t.Errorf("cause lost: %v", err)
	}
}
