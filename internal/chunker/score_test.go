package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScoreBounds(t *testing.T) {
	samples := []struct {
		text  string
		level int
	}{
		{"plain sentence with nothing special going on here today", 3},
		{"", 6},
		{"- one\n- two\n- three", 0},
		{strings.Repeat("**important** essential critical fundamental key concept note that remember ", 3) + "\n```go\nx\n```\nThis refers to stacking every bonus.", 0},
	}
	for i, s := range samples {
		got := Score(s.text, s.level)
		if got < 0 || got > 1 {
			t.Errorf("sample %d: Score = %v, out of [0,1]", i, got)
		}
	}
}

func TestScoreClampsStackedBonuses(t *testing.T) {
	text := "**a** **b** **c** **d** **e** important essential critical fundamental key concept note that remember\n- item\n```go\nx\n```\nThis refers to everything at once."
	if got := Score(text, 0); got != 1 {
		t.Errorf("expected stacked bonuses clamped to 1, got %v", got)
	}
}

func TestScoreDefinitionBonus(t *testing.T) {
	plain := Score("A widget spins the gears of the machine.", 3)
	defn := Score("A widget refers to a spinning gear assembly.", 3)
	if defn <= plain {
		t.Errorf("expected definition language to raise the score: plain=%v defn=%v", plain, defn)
	}
}

func TestScoreListBonus(t *testing.T) {
	plain := Score("one two three", 3)
	listed := Score("- one\n- two\n- three", 3)
	if listed <= plain {
		t.Errorf("expected list markers to raise the score: plain=%v listed=%v", plain, listed)
	}
}

func TestScoreShallowerHeadingScoresHigher(t *testing.T) {
	text := "ordinary paragraph content"
	if Score(text, 1) <= Score(text, 4) {
		t.Error("expected shallower heading level to score higher")
	}
}

func TestKeywordsExtraction(t *testing.T) {
	text := "Use **gradient descent** with __momentum__ on the Turing Machine model.\n```python\nprint()\n```"
	got := Keywords(text)
	want := []string{"gradient descent", "momentum", "python", "Turing Machine"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected keywords (-want +got):\n%s", diff)
	}
}

func TestKeywordsDedupeCaseInsensitive(t *testing.T) {
	text := "**neural network** basics, then more on the Neural Network later."
	got := Keywords(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 keyword after case-insensitive dedupe, got %v", got)
	}
	if got[0] != "neural network" {
		t.Errorf("expected first occurrence kept, got %q", got[0])
	}
}

func TestKeywordsCapped(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&sb, "**term%d** ", i)
	}
	got := Keywords(sb.String())
	if len(got) != maxKeywords {
		t.Fatalf("expected %d keywords, got %d", maxKeywords, len(got))
	}
	if got[0] != "term0" || got[9] != "term9" {
		t.Errorf("expected first-seen order, got %v", got)
	}
}
