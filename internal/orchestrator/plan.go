package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/cardforge/cardforge/internal/prompt"
)

type SectionPlan struct {
	Heading        string  `json:"heading"`
	Importance     float64 `json:"importance"`
	EstimatedCards int     `json:"estimated_cards"`
	Difficulty     string  `json:"difficulty,omitempty"`
}

// DocumentPlan is produced by the planning pass and read-only afterwards.
type DocumentPlan struct {
	Overview      string        `json:"overview"`
	Topics        []string      `json:"topics,omitempty"`
	Sections      []SectionPlan `json:"sections,omitempty"`
	TotalEstimate int           `json:"total_estimate"`
}

const (
	defaultPlanOverview = "Flashcard deck generated from the document."
	defaultPlanEstimate = 10

	condensedBodyLines = 10
	nonTrivialLineLen  = 40
)

var planHeadingRe = regexp.MustCompile(`^#{1,6}\s+`)

// plan runs the planning pass. Any failure, from dispatch to decoding,
// substitutes the default plan so the run can continue.
func (o *Orchestrator) plan(ctx context.Context, document string) *DocumentPlan {
	input := document
	if len(document) > o.cfg.CondenseThreshold {
		input = condense(document)
	}

	messages, err := o.store.Render(prompt.TemplatePlanning, map[string]string{
		"document": input,
	})
	if err != nil {
		o.logger.Warn("planning prompt failed, using default plan", "error", err)
		return defaultPlan()
	}

	resp, err := o.dispatch.Generate(ctx, messages, o.cfg.PreferredProvider)
	if err != nil {
		o.logger.Warn("planning dispatch failed, using default plan", "error", err)
		return defaultPlan()
	}

	plan, err := decodePlan(resp.Content)
	if err != nil {
		o.logger.Warn("plan parse failed, using default plan", "error", err)
		return defaultPlan()
	}
	return plan
}

func defaultPlan() *DocumentPlan {
	return &DocumentPlan{
		Overview:      defaultPlanOverview,
		TotalEstimate: defaultPlanEstimate,
	}
}

// condense reduces a large document to its heading lines plus the first
// few substantial body lines, enough for the planner to see the shape.
func condense(document string) string {
	var kept []string
	bodyKept := 0
	for _, line := range strings.Split(document, "\n") {
		if planHeadingRe.MatchString(line) {
			kept = append(kept, line)
			continue
		}
		if bodyKept < condensedBodyLines && len(strings.TrimSpace(line)) >= nonTrivialLineLen {
			kept = append(kept, line)
			bodyKept++
		}
	}
	return strings.Join(kept, "\n")
}
