package provider

import (
	"context"
)

// Message roles. Rendering only ever produces system+user pairs, but the
// wire format carries assistant turns too.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage mirrors the OpenAI-style usage block. Zero values mean the backend
// did not report counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Provider     string `json:"provider"`
}

// Client wraps one text-generation backend. GenerateCompletion performs a
// single network call and returns either a normalized response or a
// classified *Error. IsAvailable is best-effort: it must never panic and
// reports false on any failure.
type Client interface {
	Name() string
	GenerateCompletion(ctx context.Context, messages []Message) (*Response, error)
	IsAvailable(ctx context.Context) bool
}
