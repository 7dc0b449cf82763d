// Package dispatch routes generation requests across registered provider
// clients with fallback, retry and circuit breaking.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cardforge/cardforge/internal/provider"
)

const (
	defaultRetryAttempts = 3
	defaultBaseDelay     = 1000 * time.Millisecond
)

// Router holds the provider registry, the default provider and the ordered
// fallback chain. Registration and policy setters run during setup, before
// any Generate call; the registry is never mutated afterwards, so no
// locking is required.
type Router struct {
	clients     map[string]provider.Client
	breakers    map[string]*gobreaker.CircuitBreaker
	defaultName string
	fallbacks   []string

	retryAttempts int
	baseDelay     time.Duration

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		clients:       make(map[string]provider.Client),
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
		retryAttempts: defaultRetryAttempts,
		baseDelay:     defaultBaseDelay,
		logger:        logger,
		sleep:         sleepCtx,
	}
}

// Register adds a client under name. Re-registering a name replaces the
// existing client and resets its breaker.
func (r *Router) Register(name string, c provider.Client) {
	if _, ok := r.clients[name]; ok {
		r.logger.Warn("provider replaced", "provider", name)
	}
	r.clients[name] = c
	r.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	r.logger.Info("provider registered", "provider", name)
}

func (r *Router) SetDefault(name string) error {
	if _, ok := r.clients[name]; !ok {
		return provider.NewError(provider.KindInvalidConfig, false, name, "provider not registered")
	}
	r.defaultName = name
	return nil
}

func (r *Router) SetFallbacks(names []string) error {
	for _, name := range names {
		if _, ok := r.clients[name]; !ok {
			return provider.NewError(provider.KindInvalidConfig, false, name, "provider not registered")
		}
	}
	r.fallbacks = names
	return nil
}

// SetRetryPolicy overrides the per-provider retry count and base backoff
// delay. The delay doubles after every failed attempt.
func (r *Router) SetRetryPolicy(attempts int, baseDelay time.Duration) {
	if attempts > 0 {
		r.retryAttempts = attempts
	}
	if baseDelay > 0 {
		r.baseDelay = baseDelay
	}
}

// Client looks up a registered client by name.
func (r *Router) Client(name string) (provider.Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Generate tries each candidate in order and returns the first success.
// Unavailable providers (failed probe or open breaker) are skipped without
// consuming retry budget. When every candidate fails, the last recorded
// error is returned.
func (r *Router) Generate(ctx context.Context, messages []provider.Message, preferred string) (*provider.Response, error) {
	order := r.attemptOrder(preferred)
	if len(order) == 0 {
		return nil, provider.NewError(provider.KindProviderUnavailable, false, "", "no providers configured")
	}

	var lastErr error
	for _, name := range order {
		c := r.clients[name]
		cb := r.breakers[name]

		if cb.State() == gobreaker.StateOpen {
			r.logger.Warn("provider circuit open, skipping", "provider", name)
			lastErr = provider.NewError(provider.KindProviderUnavailable, true, name, "circuit breaker open")
			continue
		}
		if !c.IsAvailable(ctx) {
			r.logger.Warn("provider unavailable, skipping", "provider", name)
			lastErr = provider.NewError(provider.KindProviderUnavailable, true, name, "availability probe failed")
			continue
		}

		// One breaker sample covers the whole retry sequence so the
		// documented attempt counts stay exact.
		result, err := cb.Execute(func() (interface{}, error) {
			return r.generateWithRetry(ctx, c, messages)
		})
		if err == nil {
			r.logger.Info("generation succeeded", "provider", name)
			return result.(*provider.Response), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = provider.NewError(provider.KindProviderUnavailable, true, name, "circuit breaker open")
			continue
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("provider failed", "provider", name, "error", err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, provider.NewError(provider.KindProviderUnavailable, false, "", "all providers failed")
}

// generateWithRetry calls the client up to retryAttempts times. A
// non-retryable classified error aborts immediately; unclassified errors
// count as non-retryable and propagate unchanged.
func (r *Router) generateWithRetry(ctx context.Context, c provider.Client, messages []provider.Message) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		resp, err := c.GenerateCompletion(ctx, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var perr *provider.Error
		if !errors.As(err, &perr) || !perr.Retryable {
			return nil, err
		}

		if attempt < r.retryAttempts-1 {
			delay := r.baseDelay << uint(attempt)
			r.logger.Debug("retrying provider",
				"provider", c.Name(),
				"attempt", attempt+1,
				"max_attempts", r.retryAttempts,
				"delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// attemptOrder builds preferred → default → fallbacks, deduped, dropping
// unregistered names.
func (r *Router) attemptOrder(preferred string) []string {
	var order []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := r.clients[name]; !ok {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	add(preferred)
	add(r.defaultName)
	for _, name := range r.fallbacks {
		add(name)
	}
	return order
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
