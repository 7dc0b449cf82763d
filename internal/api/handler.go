// Package api exposes the generation pipeline over HTTP: an SSE stream for
// deck generation and a JSON endpoint for card validation.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardforge/cardforge/internal/orchestrator"
	"github.com/cardforge/cardforge/internal/prompt"
)

type Handler struct {
	store    *prompt.Store
	dispatch orchestrator.Dispatcher
	baseCfg  orchestrator.Config
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewHandler(store *prompt.Store, dispatch orchestrator.Dispatcher, baseCfg orchestrator.Config, tracer trace.Tracer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		dispatch: dispatch,
		baseCfg:  baseCfg,
		tracer:   tracer,
		logger:   logger,
	}
}

type generateRequest struct {
	Document          string `json:"document"`
	MaxCards          int    `json:"max_cards,omitempty"`
	PreferredProvider string `json:"preferred_provider,omitempty"`
}

type validateRequest struct {
	Cards []orchestrator.Card `json:"cards"`
}

type answerRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// HandleGenerate streams one run as server-sent events: "progress" and
// "batch" events, then a final "data: [DONE]". Closing the connection
// cancels the run.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Document == "" {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}

	requestID := uuid.New().String()
	ctx, span := h.tracer.Start(r.Context(), "api.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("document_chars", len(req.Document)),
		attribute.Int("max_cards", req.MaxCards),
	)

	// Each run gets its own orchestrator; only the dispatch router and
	// the template store are shared, and both are immutable by now.
	cfg := h.baseCfg
	if req.MaxCards > 0 {
		cfg.MaxCards = req.MaxCards
	}
	if req.PreferredProvider != "" {
		cfg.PreferredProvider = req.PreferredProvider
	}
	orch, err := orchestrator.New(h.store, h.dispatch, cfg, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", requestID)

	for item := range orch.Run(ctx, req.Document) {
		event := "progress"
		var payload any = item.Progress
		if item.Batch != nil {
			event = "batch"
			payload = item.Batch
		}
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("stream item encoding failed", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// HandleValidate assesses an already generated card list.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.validate")
	defer span.End()
	span.SetAttributes(attribute.Int("cards", len(req.Cards)))

	orch, err := orchestrator.New(h.store, h.dispatch, h.baseCfg, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := orch.ValidateCards(ctx, req.Cards)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}

// HandleAnswer answers a single question, optionally grounded in
// caller-provided context.
func (h *Handler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.answer")
	defer span.End()
	span.SetAttributes(attribute.Int("question_chars", len(req.Question)))

	orch, err := orchestrator.New(h.store, h.dispatch, h.baseCfg, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	answer, err := orch.AnswerQuestion(ctx, req.Question, req.Context)
	if err != nil {
		h.logger.Error("answer generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"answer": answer})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
