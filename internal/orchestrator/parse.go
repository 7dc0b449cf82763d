package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model output is free-form text that should contain JSON, possibly inside
// a ```json fence. extractJSON strips the fence if present, otherwise cuts
// the first complete JSON value out of the surrounding prose.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

func extractJSON(s string) string {
	raw := strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

const defaultConfidence = 0.8

type rawCard struct {
	Type       string   `json:"type"`
	Front      string   `json:"front"`
	Back       string   `json:"back"`
	Text       string   `json:"text"`
	Cloze      string   `json:"cloze"`
	Tags       []string `json:"tags"`
	Confidence *float64 `json:"confidence"`
}

type cardEnvelope struct {
	Cards   []rawCard `json:"cards"`
	Summary string    `json:"summary"`
}

// decodeCards accepts either the {"cards":[...],"summary":...} envelope or
// a bare card array. Per-card fields are defaulted explicitly: unknown
// types become basic, missing confidence becomes 0.8, scores are clamped.
func decodeCards(content string) ([]Card, string, error) {
	raw := extractJSON(content)

	var envelope cardEnvelope
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &envelope.Cards); err != nil {
			return nil, "", fmt.Errorf("decode card array: %w", err)
		}
	} else if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, "", fmt.Errorf("decode card envelope: %w", err)
	}

	cards := make([]Card, 0, len(envelope.Cards))
	for _, rc := range envelope.Cards {
		text := rc.Text
		if text == "" {
			text = rc.Cloze
		}
		if rc.Front == "" && text == "" {
			continue
		}
		cards = append(cards, Card{
			Type:       normalizeType(rc.Type),
			Front:      rc.Front,
			Back:       rc.Back,
			Text:       text,
			Tags:       rc.Tags,
			Confidence: confidenceOrDefault(rc.Confidence),
		})
	}
	return cards, strings.TrimSpace(envelope.Summary), nil
}

func normalizeType(t string) CardType {
	switch CardType(strings.ToLower(strings.TrimSpace(t))) {
	case CardCloze:
		return CardCloze
	case CardQA:
		return CardQA
	default:
		return CardBasic
	}
}

func confidenceOrDefault(c *float64) float64 {
	if c == nil {
		return defaultConfidence
	}
	return clamp01(*c)
}

type rawPlan struct {
	Overview      string        `json:"overview"`
	Topics        []string      `json:"topics"`
	Sections      []SectionPlan `json:"sections"`
	TotalEstimate int           `json:"total_estimate"`
}

func decodePlan(content string) (*DocumentPlan, error) {
	raw := extractJSON(content)

	var rp rawPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	plan := &DocumentPlan{
		Overview:      strings.TrimSpace(rp.Overview),
		Topics:        rp.Topics,
		Sections:      rp.Sections,
		TotalEstimate: rp.TotalEstimate,
	}
	if plan.Overview == "" {
		plan.Overview = defaultPlanOverview
	}
	if plan.TotalEstimate <= 0 {
		plan.TotalEstimate = defaultPlanEstimate
	}
	for i := range plan.Sections {
		plan.Sections[i].Importance = clamp01(plan.Sections[i].Importance)
		if plan.Sections[i].EstimatedCards < 0 {
			plan.Sections[i].EstimatedCards = 0
		}
	}
	return plan, nil
}

type rawAssessment struct {
	Clarity       *float64 `json:"clarity"`
	Accuracy      *float64 `json:"accuracy"`
	Completeness  *float64 `json:"completeness"`
	Uniqueness    *float64 `json:"uniqueness"`
	DifficultyFit *float64 `json:"difficulty_fit"`
	Issues        []string `json:"issues"`
}

type rawValidation struct {
	Assessments []rawAssessment `json:"assessments"`
	Duplicates  [][]int         `json:"duplicates"`
}

// decodeAssessments parses the validation response. Each assessment is
// padded or truncated to cardCount entries; missing scores default to 0.8.
func decodeAssessments(content string, cardCount int) (*ValidationReport, error) {
	raw := extractJSON(content)

	var rv rawValidation
	if err := json.Unmarshal([]byte(raw), &rv); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}

	report := &ValidationReport{
		Assessments: make([]CardAssessment, cardCount),
	}
	for i := 0; i < cardCount; i++ {
		if i < len(rv.Assessments) {
			ra := rv.Assessments[i]
			report.Assessments[i] = CardAssessment{
				Clarity:       confidenceOrDefault(ra.Clarity),
				Accuracy:      confidenceOrDefault(ra.Accuracy),
				Completeness:  confidenceOrDefault(ra.Completeness),
				Uniqueness:    confidenceOrDefault(ra.Uniqueness),
				DifficultyFit: confidenceOrDefault(ra.DifficultyFit),
				Issues:        ra.Issues,
			}
		} else {
			report.Assessments[i] = defaultAssessment()
		}
	}
	for _, pair := range rv.Duplicates {
		if len(pair) >= 2 {
			report.Duplicates = append(report.Duplicates, [2]int{pair[0], pair[1]})
		}
	}
	return report, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
