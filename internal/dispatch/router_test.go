package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cardforge/cardforge/internal/provider"
)

// mockClient returns queued errors in order, then succeeds. An empty
// queue succeeds immediately.
type mockClient struct {
	name        string
	unavailable bool
	errs        []error
	calls       int
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) GenerateCompletion(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &provider.Response{Content: "ok", Provider: m.name}, nil
}

func (m *mockClient) IsAvailable(ctx context.Context) bool { return !m.unavailable }

func newTestRouter() (*Router, *[]time.Duration) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	delays := &[]time.Duration{}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r, delays
}

func retryableErr(name string) error {
	return provider.NewError(provider.KindAPIError, true, name, "server error")
}

func TestGenerateFirstSuccessShortCircuits(t *testing.T) {
	r, _ := newTestRouter()
	p1 := &mockClient{name: "p1"}
	p2 := &mockClient{name: "p2"}
	r.Register("p1", p1)
	r.Register("p2", p2)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFallbacks([]string{"p2"}); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Generate(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p1" {
		t.Errorf("expected response from p1, got %s", resp.Provider)
	}
	if p1.calls != 1 {
		t.Errorf("expected 1 call to p1, got %d", p1.calls)
	}
	if p2.calls != 0 {
		t.Errorf("expected no calls to p2, got %d", p2.calls)
	}
}

func TestGenerateNonRetryableSingleAttempt(t *testing.T) {
	r, delays := newTestRouter()
	authErr := provider.NewError(provider.KindAuthentication, false, "p1", "invalid key")
	p1 := &mockClient{name: "p1", errs: []error{authErr, authErr, authErr}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	_, err := r.Generate(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if p1.calls != 1 {
		t.Errorf("expected exactly 1 attempt for non-retryable error, got %d", p1.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no backoff sleeps, got %v", *delays)
	}
}

func TestGenerateRetryableExhaustsAttempts(t *testing.T) {
	r, delays := newTestRouter()
	r.SetRetryPolicy(3, 10*time.Millisecond)
	p1 := &mockClient{name: "p1", errs: []error{
		retryableErr("p1"), retryableErr("p1"), retryableErr("p1"), retryableErr("p1"),
	}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	_, err := r.Generate(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if p1.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", p1.calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *delays)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("sleep %d: expected %v, got %v", i, d, (*delays)[i])
		}
	}
}

func TestGenerateRetrySucceedsMidway(t *testing.T) {
	r, delays := newTestRouter()
	r.SetRetryPolicy(3, 10*time.Millisecond)
	p1 := &mockClient{name: "p1", errs: []error{retryableErr("p1")}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Generate(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p1" {
		t.Errorf("expected response from p1, got %s", resp.Provider)
	}
	if p1.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", p1.calls)
	}
	if len(*delays) != 1 {
		t.Errorf("expected 1 sleep, got %v", *delays)
	}
}

func TestGenerateUnavailableSkippedWithoutRetries(t *testing.T) {
	r, _ := newTestRouter()
	p1 := &mockClient{name: "p1", unavailable: true}
	p2 := &mockClient{name: "p2"}
	r.Register("p1", p1)
	r.Register("p2", p2)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFallbacks([]string{"p2"}); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Generate(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p2" {
		t.Errorf("expected response from p2, got %s", resp.Provider)
	}
	if p1.calls != 0 {
		t.Errorf("expected no generation calls to unavailable provider, got %d", p1.calls)
	}
}

func TestGenerateFallbackAfterExhaustion(t *testing.T) {
	r, _ := newTestRouter()
	r.SetRetryPolicy(3, time.Millisecond)
	p1 := &mockClient{name: "p1", errs: []error{
		retryableErr("p1"), retryableErr("p1"), retryableErr("p1"),
	}}
	p2 := &mockClient{name: "p2"}
	r.Register("p1", p1)
	r.Register("p2", p2)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFallbacks([]string{"p2"}); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Generate(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p2" {
		t.Errorf("expected response from p2, got %s", resp.Provider)
	}
	if p1.calls != 3 {
		t.Errorf("expected p1 retries exhausted at 3, got %d", p1.calls)
	}
	if p2.calls != 1 {
		t.Errorf("expected 1 call to p2, got %d", p2.calls)
	}
}

func TestGeneratePreferredTriedFirst(t *testing.T) {
	r, _ := newTestRouter()
	p1 := &mockClient{name: "p1"}
	p2 := &mockClient{name: "p2"}
	r.Register("p1", p1)
	r.Register("p2", p2)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	resp, err := r.Generate(context.Background(), nil, "p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p2" {
		t.Errorf("expected preferred provider p2, got %s", resp.Provider)
	}
	if p1.calls != 0 {
		t.Errorf("expected default untouched, got %d calls", p1.calls)
	}
}

func TestGenerateDedupesAttemptOrder(t *testing.T) {
	r, _ := newTestRouter()
	authErr := provider.NewError(provider.KindAuthentication, false, "p1", "invalid key")
	p1 := &mockClient{name: "p1", errs: []error{authErr, authErr, authErr}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFallbacks([]string{"p1"}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Generate(context.Background(), nil, "p1")
	if err == nil {
		t.Fatal("expected error")
	}
	if p1.calls != 1 {
		t.Errorf("expected deduped single attempt, got %d calls", p1.calls)
	}
}

func TestGenerateNoProviders(t *testing.T) {
	r, _ := newTestRouter()

	_, err := r.Generate(context.Background(), nil, "")
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if perr.Kind != provider.KindProviderUnavailable {
		t.Errorf("expected %s, got %s", provider.KindProviderUnavailable, perr.Kind)
	}
}

func TestGenerateUnclassifiedErrorPropagates(t *testing.T) {
	r, delays := newTestRouter()
	sentinel := errors.New("boom")
	p1 := &mockClient{name: "p1", errs: []error{sentinel}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	_, err := r.Generate(context.Background(), nil, "")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if p1.calls != 1 {
		t.Errorf("expected 1 attempt for unclassified error, got %d", p1.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no sleeps, got %v", *delays)
	}
}

func TestGenerateCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r, _ := newTestRouter()
	authErr := provider.NewError(provider.KindAuthentication, false, "p1", "invalid key")
	p1 := &mockClient{name: "p1", errs: []error{
		authErr, authErr, authErr, authErr, authErr,
	}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Generate(context.Background(), nil, ""); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if p1.calls != 3 {
		t.Fatalf("expected 3 calls before trip, got %d", p1.calls)
	}

	_, err := r.Generate(context.Background(), nil, "")
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable after breaker trip, got %v", err)
	}
	if p1.calls != 3 {
		t.Errorf("expected open breaker to skip the client, got %d calls", p1.calls)
	}
}

func TestSetDefaultUnregistered(t *testing.T) {
	r, _ := newTestRouter()

	err := r.SetDefault("ghost")
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindInvalidConfig {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}

func TestSetFallbacksUnregistered(t *testing.T) {
	r, _ := newTestRouter()
	r.Register("p1", &mockClient{name: "p1"})

	err := r.SetFallbacks([]string{"p1", "ghost"})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindInvalidConfig {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}

func TestGenerateContextCancelledDuringBackoff(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.SetRetryPolicy(3, time.Millisecond)
	p1 := &mockClient{name: "p1", errs: []error{
		retryableErr("p1"), retryableErr("p1"), retryableErr("p1"),
	}}
	r.Register("p1", p1)
	if err := r.SetDefault("p1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := r.Generate(ctx, nil, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p1.calls != 1 {
		t.Errorf("expected retry loop to stop after cancellation, got %d calls", p1.calls)
	}
}
