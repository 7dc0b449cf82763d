package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cardforge/cardforge/internal/provider"
)

func sampleCards() []Card {
	return []Card{
		{Type: CardBasic, Front: "What is a channel?", Back: "A typed conduit.", Confidence: 0.9},
		{Type: CardCloze, Text: "Goroutines are {{c1::lightweight}}.", Confidence: 0.8},
	}
}

func TestValidateCardsEmptyInput(t *testing.T) {
	f := &fakeDispatcher{fn: func(int, []provider.Message) (string, error) {
		t.Fatal("dispatch must not be called for an empty card list")
		return "", nil
	}}
	o := newTestOrchestrator(t, f, Config{})

	report := o.ValidateCards(context.Background(), nil)
	if len(report.Assessments) != 0 {
		t.Errorf("expected empty report, got %d assessments", len(report.Assessments))
	}
}

func TestValidateCardsParsesResponse(t *testing.T) {
	f := &fakeDispatcher{fn: func(call int, _ []provider.Message) (string, error) {
		return `{"assessments":[
			{"clarity":1,"accuracy":0.6,"completeness":0.9,"uniqueness":0.9,"difficulty_fit":0.7,"issues":["answer too terse"]},
			{"clarity":0.9,"accuracy":0.9,"completeness":0.9,"uniqueness":0.9,"difficulty_fit":0.9}
		],"duplicates":[[0,1]]}`, nil
	}}
	o := newTestOrchestrator(t, f, Config{})

	report := o.ValidateCards(context.Background(), sampleCards())
	if len(report.Assessments) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(report.Assessments))
	}
	if report.Assessments[0].Accuracy != 0.6 {
		t.Errorf("expected parsed accuracy 0.6, got %v", report.Assessments[0].Accuracy)
	}
	if len(report.Assessments[0].Issues) != 1 {
		t.Errorf("expected 1 issue, got %v", report.Assessments[0].Issues)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0] != [2]int{0, 1} {
		t.Errorf("expected duplicate pair [0 1], got %v", report.Duplicates)
	}

	// The prompt carries the serialized cards.
	if !strings.Contains(f.calls[0][1].Content, "What is a channel?") {
		t.Error("expected card content in the validation prompt")
	}
}

func TestValidateCardsDispatchFailureDefaults(t *testing.T) {
	f := &fakeDispatcher{fn: func(int, []provider.Message) (string, error) {
		return "", errors.New("all providers down")
	}}
	o := newTestOrchestrator(t, f, Config{})

	report := o.ValidateCards(context.Background(), sampleCards())
	if len(report.Assessments) != 2 {
		t.Fatalf("expected 2 default assessments, got %d", len(report.Assessments))
	}
	for i, a := range report.Assessments {
		if a.Clarity != defaultConfidence || a.Accuracy != defaultConfidence {
			t.Errorf("assessment %d: expected defaults, got %+v", i, a)
		}
	}
}

func TestValidateCardsGarbageResponseDefaults(t *testing.T) {
	f := &fakeDispatcher{fn: func(int, []provider.Message) (string, error) {
		return "I cannot help with that.", nil
	}}
	o := newTestOrchestrator(t, f, Config{})

	report := o.ValidateCards(context.Background(), sampleCards())
	if len(report.Assessments) != 2 {
		t.Fatalf("expected 2 default assessments, got %d", len(report.Assessments))
	}
	if report.Assessments[1].Uniqueness != defaultConfidence {
		t.Errorf("expected default uniqueness, got %v", report.Assessments[1].Uniqueness)
	}
}
