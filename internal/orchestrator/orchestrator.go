// Package orchestrator drives the multi-pass card generation pipeline:
// planning, chunking, per-chunk generation with carried context, and
// on-demand validation. A run emits a lazy, ordered, finite stream of
// progress events and card batches.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cardforge/cardforge/internal/chunker"
	"github.com/cardforge/cardforge/internal/prompt"
	"github.com/cardforge/cardforge/internal/provider"
)

type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseCompleted  Phase = "completed"
)

type CardType string

const (
	CardBasic CardType = "basic"
	CardCloze CardType = "cloze"
	CardQA    CardType = "qa"
)

type Card struct {
	Type       CardType `json:"type"`
	Front      string   `json:"front,omitempty"`
	Back       string   `json:"back,omitempty"`
	Text       string   `json:"text,omitempty"` // cloze deletion text
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
}

type CardBatch struct {
	ChunkID string  `json:"chunk_id"`
	Heading string  `json:"heading"`
	Cards   []Card  `json:"cards"`
	Summary string  `json:"summary,omitempty"`
	Quality float64 `json:"quality"`
}

// ProgressEvent reports pipeline progress. ChunkIndex is 1-based within
// the processing order; Cards is the cumulative card count.
type ProgressEvent struct {
	Phase       Phase  `json:"phase"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	Cards       int    `json:"cards"`
	Message     string `json:"message,omitempty"`
}

// StreamItem is one element of the run stream: exactly one of Progress or
// Batch is set.
type StreamItem struct {
	Progress *ProgressEvent `json:"progress,omitempty"`
	Batch    *CardBatch     `json:"batch,omitempty"`
}

// Dispatcher is the slice of the dispatch router the orchestrator needs.
type Dispatcher interface {
	Generate(ctx context.Context, messages []provider.Message, preferred string) (*provider.Response, error)
}

type Config struct {
	MinChunkTokens    int    // default 120
	MaxChunkTokens    int    // default 800
	MaxCards          int    // card budget per run, default 50
	PreferredProvider string // optional routing hint
	CondenseThreshold int    // chars before planning sees a condensed view, default 12000
}

const (
	defaultMinChunkTokens    = 120
	defaultMaxChunkTokens    = 800
	defaultMaxCards          = 50
	defaultCondenseThreshold = 12000

	firstSectionSummary = "This is the first section of the document."
)

type Orchestrator struct {
	store    *prompt.Store
	dispatch Dispatcher
	splitter *chunker.Chunker
	cfg      Config
	logger   *slog.Logger
}

func New(store *prompt.Store, dispatch Dispatcher, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator: prompt store is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("orchestrator: dispatcher is required")
	}
	if cfg.MinChunkTokens == 0 {
		cfg.MinChunkTokens = defaultMinChunkTokens
	}
	if cfg.MaxChunkTokens == 0 {
		cfg.MaxChunkTokens = defaultMaxChunkTokens
	}
	if cfg.MaxCards == 0 {
		cfg.MaxCards = defaultMaxCards
	}
	if cfg.CondenseThreshold == 0 {
		cfg.CondenseThreshold = defaultCondenseThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	splitter, err := chunker.New(chunker.Options{
		MinTokens: cfg.MinChunkTokens,
		MaxTokens: cfg.MaxChunkTokens,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:    store,
		dispatch: dispatch,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Run starts a generation run and returns its stream. The stream is
// unbuffered: the producer suspends until the consumer pulls the next
// item. Cancel ctx to abandon the run; the channel is always closed.
func (o *Orchestrator) Run(ctx context.Context, document string) <-chan StreamItem {
	out := make(chan StreamItem)
	go func() {
		defer close(out)
		o.run(ctx, document, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, document string, out chan<- StreamItem) {
	// Pass 1: planning. Failures degrade to a default plan.
	if !send(ctx, out, progress(PhasePlanning, 0, "analyzing document structure")) {
		return
	}
	plan := o.plan(ctx, document)

	// Pass 2: chunking. Highest-importance sections first; ties keep
	// document order.
	chunks := o.splitter.Split(document)
	outline := headingOutline(chunks)
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Importance > chunks[j].Importance
	})
	if !send(ctx, out, StreamItem{Progress: &ProgressEvent{
		Phase:       PhaseAnalyzing,
		TotalChunks: len(chunks),
		Message:     fmt.Sprintf("split document into %d chunks", len(chunks)),
	}}) {
		return
	}

	byID := make(map[string]chunker.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	// Pass 3: per-chunk generation, strictly sequential so each chunk
	// sees the previous section's summary.
	topic := runningTopic(plan)
	prevSummary := firstSectionSummary
	totalCards := 0

	for i, ch := range chunks {
		if ctx.Err() != nil {
			return
		}
		if totalCards >= o.cfg.MaxCards {
			o.logger.Info("card budget reached", "cards", totalCards, "budget", o.cfg.MaxCards)
			break
		}
		if !send(ctx, out, StreamItem{Progress: &ProgressEvent{
			Phase:       PhaseGenerating,
			ChunkIndex:  i + 1,
			TotalChunks: len(chunks),
			Cards:       totalCards,
			Message:     fmt.Sprintf("generating cards for %q", ch.Heading),
		}}) {
			return
		}

		batch, err := o.generateBatch(ctx, topic, outline, prevSummary, ch, byID)
		if err != nil {
			// One failed chunk never aborts the run.
			o.logger.Warn("chunk generation failed, skipping",
				"chunk", ch.ID, "heading", ch.Heading, "error", err)
			continue
		}

		if !send(ctx, out, StreamItem{Batch: batch}) {
			return
		}
		totalCards += len(batch.Cards)
		if batch.Summary != "" {
			prevSummary = batch.Summary
		}
	}

	// Pass 4: terminal event with the final cumulative count.
	send(ctx, out, StreamItem{Progress: &ProgressEvent{
		Phase:   PhaseCompleted,
		Cards:   totalCards,
		Message: fmt.Sprintf("generated %d cards", totalCards),
	}})
}

func (o *Orchestrator) generateBatch(ctx context.Context, topic, outline, prevSummary string, ch chunker.Chunk, byID map[string]chunker.Chunk) (*CardBatch, error) {
	messages, err := o.store.Render(prompt.TemplateGeneration, map[string]string{
		"topic":            topic,
		"heading":          headingPath(ch, byID),
		"previous_summary": prevSummary,
		"outline":          outline,
		"content":          ch.Text,
	})
	if err != nil {
		return nil, err
	}

	resp, err := o.dispatch.Generate(ctx, messages, o.cfg.PreferredProvider)
	if err != nil {
		return nil, err
	}

	cards, summary, err := decodeCards(resp.Content)
	if err != nil {
		// Unparseable model output yields an empty batch, not a failure.
		o.logger.Warn("card parse failed", "chunk", ch.ID, "error", err)
		cards, summary = nil, ""
	}

	return &CardBatch{
		ChunkID: ch.ID,
		Heading: ch.Heading,
		Cards:   cards,
		Summary: summary,
		Quality: batchQuality(cards),
	}, nil
}

// batchQuality is the mean per-card confidence scaled by a count penalty:
// very small batches (<2) and oversized ones (>10) score lower.
func batchQuality(cards []Card) float64 {
	if len(cards) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cards {
		sum += c.Confidence
	}
	mean := sum / float64(len(cards))

	penalty := 1.0
	switch {
	case len(cards) < 2:
		penalty = 0.8
	case len(cards) > 10:
		penalty = 0.9
	}
	return clamp01(mean * penalty)
}

// headingPath walks parent references to build "Top > Sub > Leaf".
func headingPath(ch chunker.Chunk, byID map[string]chunker.Chunk) string {
	path := []string{ch.Heading}
	seen := map[string]bool{ch.ID: true}
	for cur := ch; cur.ParentID != "" && !seen[cur.ParentID]; {
		parent, ok := byID[cur.ParentID]
		if !ok {
			break
		}
		seen[parent.ID] = true
		path = append([]string{parent.Heading}, path...)
		cur = parent
	}
	return strings.Join(path, " > ")
}

// headingOutline renders a compact outline of levels <= 2 in document
// order, before any importance reordering.
func headingOutline(chunks []chunker.Chunk) string {
	var b strings.Builder
	var last string
	for _, ch := range chunks {
		if ch.Level > 2 || ch.Heading == last {
			continue
		}
		last = ch.Heading
		if ch.Level == 2 {
			b.WriteString("  ")
		}
		b.WriteString("- ")
		b.WriteString(ch.Heading)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func runningTopic(plan *DocumentPlan) string {
	if len(plan.Topics) > 0 {
		return strings.Join(plan.Topics, ", ")
	}
	return plan.Overview
}

func progress(phase Phase, cards int, msg string) StreamItem {
	return StreamItem{Progress: &ProgressEvent{Phase: phase, Cards: cards, Message: msg}}
}

// send delivers one item, suspending until the consumer pulls it. False
// means the run was cancelled.
func send(ctx context.Context, out chan<- StreamItem, item StreamItem) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
