package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/cardforge/cardforge/internal/prompt"
)

type CardAssessment struct {
	Clarity       float64  `json:"clarity"`
	Accuracy      float64  `json:"accuracy"`
	Completeness  float64  `json:"completeness"`
	Uniqueness    float64  `json:"uniqueness"`
	DifficultyFit float64  `json:"difficulty_fit"`
	Issues        []string `json:"issues,omitempty"`
}

type ValidationReport struct {
	Assessments []CardAssessment `json:"assessments"`
	Duplicates  [][2]int         `json:"duplicates,omitempty"`
}

// ValidateCards runs the on-demand validation pass over a finished card
// list. It never fails the caller: any dispatch or parse problem degrades
// to a default assessment per card.
func (o *Orchestrator) ValidateCards(ctx context.Context, cards []Card) *ValidationReport {
	if len(cards) == 0 {
		return &ValidationReport{Assessments: []CardAssessment{}}
	}

	encoded, err := json.MarshalIndent(cards, "", "  ")
	if err != nil {
		o.logger.Warn("card encoding failed, using default assessments", "error", err)
		return defaultReport(len(cards))
	}

	messages, err := o.store.Render(prompt.TemplateValidation, map[string]string{
		"cards": string(encoded),
	})
	if err != nil {
		o.logger.Warn("validation prompt failed, using default assessments", "error", err)
		return defaultReport(len(cards))
	}

	resp, err := o.dispatch.Generate(ctx, messages, o.cfg.PreferredProvider)
	if err != nil {
		o.logger.Warn("validation dispatch failed, using default assessments", "error", err)
		return defaultReport(len(cards))
	}

	report, err := decodeAssessments(resp.Content, len(cards))
	if err != nil {
		o.logger.Warn("validation parse failed, using default assessments", "error", err)
		return defaultReport(len(cards))
	}
	return report
}

func defaultAssessment() CardAssessment {
	return CardAssessment{
		Clarity:       defaultConfidence,
		Accuracy:      defaultConfidence,
		Completeness:  defaultConfidence,
		Uniqueness:    defaultConfidence,
		DifficultyFit: defaultConfidence,
	}
}

func defaultReport(n int) *ValidationReport {
	report := &ValidationReport{Assessments: make([]CardAssessment, n)}
	for i := range report.Assessments {
		report.Assessments[i] = defaultAssessment()
	}
	return report
}
