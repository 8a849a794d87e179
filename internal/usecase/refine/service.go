// Package refine generates clarifying questions and folds answers back into a query.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/query"
	"github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/usecase/llm"
)

// MaxQuestions caps the questions offered per round.
const MaxQuestions = 5

const systemPrompt = `You help people find health and community services.
Given the user's request and the recommendation they received, write 2 to 3 short follow-up questions
that would clarify their needs, preferences or circumstances so a better recommendation can be made.
Do not repeat information the user already gave. If nothing useful is left to ask, return an empty list.
Respond with only a JSON array of strings, for example: ["Question one?", "Question two?"]`

// Service is the refinement loop helper.
type Service struct {
	llm    Completer
	logger *zap.Logger
}

// New creates the refinement service.
func New(llm Completer, log *zap.Logger) *Service {
	return &Service{llm: llm, logger: log}
}

// GenerateQuestions asks the model for clarifying questions. An empty list is a valid answer.
func (s *Service) GenerateQuestions(ctx context.Context, text, message string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}

	user := fmt.Sprintf("User query: %q\n\nRecommendation:\n%s", text, strings.TrimSpace(message))
	out, err := s.llm.Complete(ctx, domain.StageQuestions, []domain.Message{
		domain.System(systemPrompt),
		domain.User(user),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRefinementUnavailable, err)
	}

	questions, ok := parseQuestions(out)
	if !ok {
		logger.FromContextOr(ctx, s.logger).Warn("Question output was not a JSON array, scanned lines instead",
			zap.Int("questions", len(questions)),
		)
	}
	if len(questions) > MaxQuestions {
		questions = questions[:MaxQuestions]
	}
	return questions, nil
}

// parseQuestions reads a JSON array of strings, falling back to lines that end in "?".
// ok is false when the fallback was used.
func parseQuestions(out string) ([]string, bool) {
	if arr, found := llm.ExtractJSON(out, '[', ']'); found {
		var raw []string
		if json.Unmarshal([]byte(arr), &raw) == nil {
			return clean(raw), true
		}
	}

	var lines []string
	for _, line := range strings.Split(llm.StripFences(out), "\n") {
		line = cleanLine(line)
		if !strings.HasSuffix(line, "?") {
			continue
		}
		lines = append(lines, line)
	}
	return clean(lines), false
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// cleanLine removes list markers ("-", "*", "1.", "2)"), surrounding quotes and
// markdown emphasis until the line stops changing.
func cleanLine(line string) string {
	for {
		prev := line
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•> \t")
		if strings.HasPrefix(line, "* ") {
			line = line[2:]
		}
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = line[i+1:]
		}
		line = strings.Trim(strings.TrimSpace(line), "\"'`*_“”")
		if line == prev {
			return line
		}
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// AugmentQuery appends the answered Q/A pairs to the query text.
// Answers pair with questions by position; blank answers are dropped. With nothing
// answered the query is returned unchanged.
func AugmentQuery(q query.Query, questions, answers []string) query.Query {
	pairs := make([]string, 0, len(answers))
	for i, a := range answers {
		if i >= len(questions) {
			break
		}
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("Q: %s\nA: %s", strings.TrimSpace(questions[i]), a))
	}
	if len(pairs) == 0 {
		return q
	}
	return q.WithText(q.Text + "\n" + strings.Join(pairs, "\n"))
}
