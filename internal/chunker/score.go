package chunker

import (
	"regexp"
	"strings"
)

// Heuristic scoring weights. Tuned for parity with observed behavior, not
// load-bearing invariants.
const (
	baseScore       = 0.5
	levelWeight     = 0.05
	definitionBonus = 0.15
	listBonus       = 0.1
	codeBonus       = 0.1
	emphasisWeight  = 0.02
	emphasisCap     = 0.1
	keywordBonus    = 0.05
	maxKeywords     = 10
)

var (
	definitionRe = regexp.MustCompile(`(?i)\b(is defined as|is called|is known as|refers to|means|definition)\b`)
	listMarkerRe = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	emphasisRe   = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)

	boldSpanRe = regexp.MustCompile(`\*\*([^*\n]+)\*\*|__([^_\n]+)__`)
	codeLangRe = regexp.MustCompile("(?m)^```([A-Za-z][\\w+#-]*)")
	capTermRe  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`)
)

// importanceKeywords includes locale variants; each match adds a flat
// bonus.
var importanceKeywords = []string{
	"important", "essential", "critical", "fundamental", "key concept",
	"note that", "remember",
	"wichtig", "importante", "essentiel", "重要",
}

// Score rates a chunk's importance in [0,1]. Shallower headings, definition
// language, lists, code blocks, emphasis and importance keywords all raise
// the score.
func Score(text string, level int) float64 {
	score := baseScore
	score += float64(6-level) * levelWeight

	if definitionRe.MatchString(text) {
		score += definitionBonus
	}
	if listMarkerRe.MatchString(text) {
		score += listBonus
	}
	if strings.Contains(text, "```") {
		score += codeBonus
	}

	emphasis := float64(len(emphasisRe.FindAllString(text, -1))) * emphasisWeight
	if emphasis > emphasisCap {
		emphasis = emphasisCap
	}
	score += emphasis

	lower := strings.ToLower(text)
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			score += keywordBonus
		}
	}

	return clamp(score)
}

// Keywords extracts up to 10 candidate terms: emphasized spans, fenced code
// language tags, and capitalized multi-word terms. First-seen order is
// preserved; duplicates are folded case-insensitively.
func Keywords(text string) []string {
	var keywords []string
	seen := make(map[string]bool)
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" || len(keywords) >= maxKeywords {
			return
		}
		folded := strings.ToLower(term)
		if seen[folded] {
			return
		}
		seen[folded] = true
		keywords = append(keywords, term)
	}

	for _, m := range boldSpanRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range codeLangRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range capTermRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return keywords
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
