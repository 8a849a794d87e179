package domain

import "context"

// Role of a chat message.
type Role string

// Chat roles understood by every completion backend.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stage names the pipeline step issuing a completion. Used for timeouts and metrics.
type Stage string

// Generative stages.
const (
	StageClassify  Stage = "classify"
	StageRerank    Stage = "rerank"
	StageCompose   Stage = "compose"
	StageQuestions Stage = "questions"
)

// Message is a single chat turn.
type Message struct {
	Role    Role
	Content string
}

// Completer is the chat model contract shared by the generative stages.
// Implementations return the raw assistant text; parsing is the caller's job.
type Completer interface {
	Complete(ctx context.Context, stage Stage, messages []Message) (string, error)
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
