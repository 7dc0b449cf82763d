package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cardforge/cardforge/internal/provider"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:  "test-key",
		Model:   "claude-3-5-haiku-20241022",
		BaseURL: baseURL,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestGenerateCompletion(t *testing.T) {
	var gotReq claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "test-key" {
			t.Errorf("unexpected x-api-key %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != anthropicVersion {
			t.Errorf("unexpected anthropic-version %q", v)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "hello"}},
			"model":       "claude-3-5-haiku-20241022",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.GenerateCompletion(context.Background(), []provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The system turn moves into the dedicated field.
	if gotReq.System != "be brief" {
		t.Errorf("expected system field 'be brief', got %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != provider.RoleUser {
		t.Errorf("expected a single user message, got %+v", gotReq.Messages)
	}

	if resp.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("expected finish reason 'end_turn', got %s", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if resp.Provider != "claude" {
		t.Errorf("expected provider 'claude', got %s", resp.Provider)
	}
}

func TestGenerateCompletionRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"rate_limit_error"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GenerateCompletion(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}})

	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if perr.Kind != provider.KindRateLimited || !perr.Retryable {
		t.Errorf("expected retryable rate_limited, got kind=%s retryable=%v", perr.Kind, perr.Retryable)
	}
}

func TestGenerateCompletionEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[],"model":"claude-3-5-haiku-20241022"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GenerateCompletion(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}})

	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindParseError {
		t.Fatalf("expected parse_error, got %v", err)
	}
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(Config{Model: "claude-3-5-haiku-20241022"})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindInvalidConfig {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if !c.IsAvailable(context.Background()) {
		t.Error("expected backend to read as available")
	}
}
