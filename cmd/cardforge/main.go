package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cardforge/cardforge/config"
	"github.com/cardforge/cardforge/internal/api"
	"github.com/cardforge/cardforge/internal/dispatch"
	"github.com/cardforge/cardforge/internal/orchestrator"
	"github.com/cardforge/cardforge/internal/prompt"
	"github.com/cardforge/cardforge/internal/provider/claude"
	"github.com/cardforge/cardforge/internal/provider/gemini"
	"github.com/cardforge/cardforge/internal/provider/openai"
	"github.com/cardforge/cardforge/internal/provider/openaicompat"
	"github.com/cardforge/cardforge/internal/telemetry"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("cardforge", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Load prompt templates
	store, err := prompt.NewStore()
	if err != nil {
		log.Fatalf("failed to load prompt templates: %v", err)
	}

	// 4. Build and register providers
	router := dispatch.New(logger)
	router.SetRetryPolicy(cfg.RetryAttempts, cfg.RetryBaseDelay)
	if err := registerProviders(router, cfg); err != nil {
		log.Fatalf("failed to configure providers: %v", err)
	}
	if len(router.Providers()) == 0 {
		log.Fatalf("no providers configured; set PRIMARY_PROVIDER or a provider API key")
	}

	// 5. Probe availability (non-fatal; warn only)
	probeProviders(router, logger)

	// 6. Init HTTP handler
	tracer := otel.GetTracerProvider().Tracer("cardforge")
	handler := api.NewHandler(store, router, orchestrator.Config{
		MinChunkTokens:    cfg.MinChunkTokens,
		MaxChunkTokens:    cfg.MaxChunkTokens,
		MaxCards:          cfg.MaxCards,
		PreferredProvider: cfg.PrimaryProvider,
	}, tracer, logger)

	// 7. Init chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"cardforge"}`))
	})
	r.Post("/v1/decks/generate", handler.HandleGenerate)
	r.Post("/v1/cards/validate", handler.HandleValidate)
	r.Post("/v1/answers", handler.HandleAnswer)

	// 8. Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Generation streams stay open for the whole run.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("cardforge starting on port %s (providers: %s)", cfg.Port, strings.Join(router.Providers(), ", "))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// registerProviders wires every configured backend into the dispatch
// router: the generic primary/fallback endpoints plus any native provider
// with an API key present. The primary becomes the default; the rest form
// the fallback chain in registration order.
func registerProviders(router *dispatch.Router, cfg *config.Config) error {
	var chain []string

	if cfg.PrimaryProvider != "" {
		c, err := openaicompat.New(openaicompat.Config{
			Name:        cfg.PrimaryProvider,
			Endpoint:    cfg.PrimaryEndpoint,
			Model:       cfg.PrimaryModel,
			APIKey:      cfg.PrimaryAPIKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		router.Register(cfg.PrimaryProvider, c)
		if err := router.SetDefault(cfg.PrimaryProvider); err != nil {
			return err
		}
	}

	if cfg.FallbackProvider != "" {
		c, err := openaicompat.New(openaicompat.Config{
			Name:        cfg.FallbackProvider,
			Endpoint:    cfg.FallbackEndpoint,
			Model:       cfg.FallbackModel,
			APIKey:      cfg.FallbackAPIKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		router.Register(cfg.FallbackProvider, c)
		chain = append(chain, cfg.FallbackProvider)
	}

	if cfg.OpenAIAPIKey != "" {
		c, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return err
		}
		router.Register(c.Name(), c)
		chain = append(chain, c.Name())
	}

	if cfg.AnthropicAPIKey != "" {
		c, err := claude.New(claude.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		router.Register(c.Name(), c)
		chain = append(chain, c.Name())
	}

	if cfg.GeminiAPIKey != "" {
		c, err := gemini.New(gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		router.Register(c.Name(), c)
		chain = append(chain, c.Name())
	}

	if cfg.PrimaryProvider == "" && len(chain) > 0 {
		if err := router.SetDefault(chain[0]); err != nil {
			return err
		}
		chain = chain[1:]
	}
	return router.SetFallbacks(chain)
}

// probeProviders checks all registered backends concurrently at startup.
// An unreachable provider is only a warning; the router skips it per
// request anyway.
func probeProviders(router *dispatch.Router, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range router.Providers() {
		c, ok := router.Client(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			if !c.IsAvailable(ctx) {
				logger.Warn("provider unreachable at startup", "provider", c.Name())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
