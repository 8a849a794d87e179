// Package compose writes the Overview/Reasoning explanation for a ranked set.
package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/logger"
	"github.com/kailas-cloud/healthrec/internal/usecase/llm"
)

// DefaultMaxContextWords caps each service's context in the prompt.
const DefaultMaxContextWords = 300

// Section labels consumed by presentation layers.
const (
	OverviewLabel  = "Overview:"
	ReasoningLabel = "Reasoning:"
)

// NoServicesMessage is composed locally when nothing matched.
const NoServicesMessage = OverviewLabel + " No matching services were found for your request.\n" +
	ReasoningLabel + " None of the services in the directory matched your needs within the requested area. " +
	"Try widening the search radius, removing the location, or describing your need differently."

const systemPrompt = `You are an expert with deep knowledge of Toronto community and health services.
You recommend services to an individual seeking help, using only the services provided in the context.
Focus on the most relevant service. Answer in exactly two sections:
Overview: a short description of the best matching service and how to reach it.
Reasoning: why the listed services address the request, plus any other helpful information.
Do not invent services, phone numbers or addresses that are not in the context.`

// Service is the recommendation composer.
type Service struct {
	llm             Completer
	maxContextWords int
	logger          *zap.Logger
}

// New creates a composer. maxContextWords <= 0 uses DefaultMaxContextWords.
func New(llm Completer, maxContextWords int, log *zap.Logger) *Service {
	if maxContextWords <= 0 {
		maxContextWords = DefaultMaxContextWords
	}
	return &Service{llm: llm, maxContextWords: maxContextWords, logger: log}
}

// Compose returns "Overview: ...\nReasoning: ..." for the ranked candidates.
func (s *Service) Compose(ctx context.Context, text string, ranked candidate.Set) (string, error) {
	if len(ranked) == 0 {
		return NoServicesMessage, nil
	}

	out, err := s.llm.Complete(ctx, domain.StageCompose, []domain.Message{
		domain.System(systemPrompt),
		domain.User(s.userPrompt(text, ranked)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrCompositionUnavailable, err)
	}

	msg, labelled := Normalize(out, ranked)
	if msg == "" {
		return "", fmt.Errorf("%w: empty model output", domain.ErrCompositionUnavailable)
	}
	if !labelled {
		logger.FromContextOr(ctx, s.logger).Warn("Composer output lacked section labels, normalized")
	}
	return msg, nil
}

func (s *Service) userPrompt(text string, ranked candidate.Set) string {
	var b strings.Builder
	b.WriteString("<QUERY>\n")
	b.WriteString(text)
	b.WriteString("\n</QUERY>\n\n<CONTEXT>\n")
	for i := range ranked {
		r := &ranked[i].Record
		fmt.Fprintf(&b, "[%d] %s\n", i+1, r.Summary(s.maxContextWords))
		if r.Address != nil {
			if addr := r.Address.String(); addr != "" {
				fmt.Fprintf(&b, "Address: %s\n", addr)
			}
		}
		if len(r.PhoneNumbers) > 0 {
			fmt.Fprintf(&b, "Phone: %s\n", r.PhoneNumbers[0].Number)
		}
		if r.Website != "" {
			fmt.Fprintf(&b, "Website: %s\n", r.Website)
		}
		b.WriteString("\n")
	}
	b.WriteString("</CONTEXT>")
	return b.String()
}

// Normalize coerces model output into exactly two labelled lines.
// labelled reports whether the model supplied both labels itself.
func Normalize(out string, ranked candidate.Set) (msg string, labelled bool) {
	var overview, reasoning, preamble []string
	current := &preamble
	found := 0

	for _, line := range strings.Split(llm.StripFences(out), "\n") {
		body, label := splitLabel(line)
		switch label {
		case OverviewLabel:
			current = &overview
			found |= 1
		case ReasoningLabel:
			current = &reasoning
			found |= 2
		}
		if current != &reasoning {
			if before, after, ok := splitInlineReasoning(body); ok {
				if before = strings.TrimSpace(before); before != "" {
					*current = append(*current, before)
				}
				current, body = &reasoning, after
				found |= 2
			}
		}
		if body = strings.TrimSpace(body); body != "" {
			*current = append(*current, body)
		}
	}

	ov := strings.Join(overview, " ")
	re := strings.Join(reasoning, " ")
	pre := strings.Join(preamble, " ")

	if ov == "" {
		ov = pre
	}
	if ov == "" && re == "" {
		return "", false
	}
	if ov == "" {
		ov = ranked[0].Record.Name
	}
	if re == "" {
		re = "Matched services: " + strings.Join(names(ranked), ", ") + "."
	}
	return OverviewLabel + " " + ov + "\n" + ReasoningLabel + " " + re, found == 3
}

// splitLabel detects "Overview:" or "Reasoning:" headings, tolerating markdown decoration.
func splitLabel(line string) (string, string) {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "#*_ ")
	trimmed = strings.TrimLeft(stripOrdinal(trimmed), "#*_ ")
	for _, label := range []string{OverviewLabel, ReasoningLabel} {
		word := strings.TrimSuffix(label, ":")
		if len(trimmed) < len(word) || !strings.EqualFold(trimmed[:len(word)], word) {
			continue
		}
		rest := strings.TrimLeft(trimmed[len(word):], "*_ ")
		if rest == "" {
			return "", label
		}
		if rest[0] == ':' {
			return strings.TrimLeft(rest[1:], "*_ "), label
		}
	}
	return line, ""
}

// stripOrdinal drops a leading "1." or "2)" heading number.
func stripOrdinal(s string) string {
	i := 0
	for i < len(s) && i < 2 && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return s[i+1:]
	}
	return s
}

// splitInlineReasoning finds a "Reasoning:" label inside a line, as in
// "Overview: X. Reasoning: Y.", and splits the line around it.
func splitInlineReasoning(line string) (before, after string, ok bool) {
	lower := strings.ToLower(line)
	word := strings.ToLower(strings.TrimSuffix(ReasoningLabel, ":"))
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], word)
		if i < 0 {
			return "", "", false
		}
		i += from
		from = i + len(word)
		if i > 0 && isLetter(lower[i-1]) {
			continue
		}
		rest := strings.TrimLeft(line[from:], "*_ ")
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		before = strings.TrimRight(line[:i], "#*_ ")
		return before, strings.TrimLeft(rest[1:], "*_ "), true
	}
	return "", "", false
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func names(ranked candidate.Set) []string {
	out := make([]string, 0, len(ranked))
	for i := range ranked {
		out = append(out, ranked[i].Record.Name)
	}
	return out
}
