package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardforge/cardforge/internal/prompt"
)

// AnswerQuestion answers a single free-form question, optionally grounded
// in caller-provided context. Unlike validation this propagates failures:
// there is no useful degraded answer.
func (o *Orchestrator) AnswerQuestion(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("orchestrator: question is required")
	}
	if strings.TrimSpace(contextText) == "" {
		contextText = "None"
	}

	messages, err := o.store.Render(prompt.TemplateAnswer, map[string]string{
		"question": question,
		"context":  contextText,
	})
	if err != nil {
		return "", err
	}

	resp, err := o.dispatch.Generate(ctx, messages, o.cfg.PreferredProvider)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
