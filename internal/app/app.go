// Package app wires every EXSA Engine subsystem into a running process.
//
// New constructs the model lifecycle manager, admission queue, worker,
// optional retrieval and embeddings delegates, and the HTTP surface;
// Run serves until its context is cancelled; Shutdown tears subsystems
// down in reverse-init order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/ahammedyusufb/exsa-engine/internal/admission"
	"github.com/ahammedyusufb/exsa-engine/internal/config"
	"github.com/ahammedyusufb/exsa-engine/internal/httpapi"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
	"github.com/ahammedyusufb/exsa-engine/internal/observe"
	"github.com/ahammedyusufb/exsa-engine/internal/rag"
	"github.com/ahammedyusufb/exsa-engine/internal/resilience"
	"github.com/ahammedyusufb/exsa-engine/internal/template"
	"github.com/ahammedyusufb/exsa-engine/internal/worker"
	"github.com/ahammedyusufb/exsa-engine/pkg/provider/embeddings"
	"github.com/ahammedyusufb/exsa-engine/pkg/provider/embeddings/ollama"
	"github.com/ahammedyusufb/exsa-engine/pkg/provider/embeddings/openai"
)

// App owns every subsystem's lifetime and serves the HTTP surface.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	manager       *lifecycle.Manager
	queue         *admission.Queue[worker.Request]
	limiter       *admission.RateLimiter
	worker        *worker.Worker
	metrics       *observe.Metrics
	embedder      embeddings.Provider
	server        *http.Server
	metricsServer *http.Server
	otelShutdown  func(context.Context) error

	closers  []func() error
	stopOnce sync.Once
}

// Telemetry providers are process-global OTel singletons: initializing
// them more than once would attempt to register a second Prometheus
// collector against the same default registry. initTelemetry performs
// the real setup exactly once per process and hands every caller the
// same shutdown function.
var (
	telemetryOnce     sync.Once
	telemetryShutdown func(context.Context) error
	telemetryErr      error
)

func initTelemetry(ctx context.Context) (func(context.Context) error, error) {
	telemetryOnce.Do(func() {
		telemetryShutdown, telemetryErr = observe.InitProvider(ctx, observe.ProviderConfig{})
	})
	return telemetryShutdown, telemetryErr
}

// Option is a functional option for New, used to inject test doubles
// instead of the real collaborators New would otherwise build from cfg.
type Option func(*App)

// WithEmbeddingsProvider injects an embeddings delegate instead of
// building one from cfg.Embeddings.
func WithEmbeddingsProvider(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// New wires every subsystem together and performs the initial model
// load synchronously: by the time New returns without error, the
// configured model is in [lifecycle.StateReady] and the HTTP surface is
// ready to serve.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ──────────────────────────────────────────────────
	otelShutdown, err := initTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.otelShutdown = otelShutdown

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = metrics

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	}

	// ── 2. Chat template overrides ───────────────────────────────────
	overrides, err := template.LoadOverrides(cfg.Model.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("app: load template overrides: %w", err)
	}
	overrides.Apply()

	// ── 3. Model lifecycle ────────────────────────────────────────────
	a.manager = lifecycle.New(lifecycle.Options{
		Runtime:     newRuntime(),
		ModelsDir:   cfg.Model.ModelsDir,
		ContextSize: cfg.Model.ContextSize,
		BatchSize:   cfg.Model.BatchSize,
		GPULayers:   cfg.Model.GPULayers,
	})
	if err := a.manager.Load(ctx, cfg.Model.Path); err != nil {
		return nil, fmt.Errorf("app: load initial model %q: %w", cfg.Model.Path, err)
	}

	// ── 4. Admission ──────────────────────────────────────────────────
	a.queue = admission.NewQueue[worker.Request](cfg.Admission.MaxQueueSize)
	if cfg.RateLimit.Enabled {
		a.limiter = admission.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	// ── 5. Worker ─────────────────────────────────────────────────────
	a.worker = worker.New(a.queue, a.manager, logger, observe.NewWorkerRecorder(metrics, context.Background()))

	// ── 6. Embeddings delegate ───────────────────────────────────────
	if a.embedder == nil {
		embedder, err := buildEmbeddingsProvider(cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("app: build embeddings provider: %w", err)
		}
		a.embedder = embedder
	}

	// ── 7. Retrieval ──────────────────────────────────────────────────
	var retriever rag.Retriever
	if cfg.RAG.Enabled {
		if a.embedder == nil {
			return nil, fmt.Errorf("app: RAG_ENABLED requires EMBEDDINGS_PROVIDER to be set")
		}
		inner, err := rag.NewPostgresRetriever(ctx, a.embedder, rag.PostgresConfig{
			DatabaseURL: cfg.RAG.DatabaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: connect rag store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			inner.Close()
			return nil
		})
		retriever = rag.NewResilientRetriever(inner, resilience.CircuitBreakerConfig{
			Name:         "rag",
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  3,
		}, logger)
	}

	// ── 8. HTTP surface ───────────────────────────────────────────────
	handlers := &httpapi.Handlers{
		Config:    cfg,
		Manager:   a.manager,
		Queue:     a.queue,
		Worker:    a.worker,
		Retriever: retriever,
		Embedder:  a.embedder,
		Logger:    logger,
		StartedAt: time.Now(),
	}
	router := httpapi.NewRouter(handlers, metrics, a.limiter)
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// buildEmbeddingsProvider constructs the configured embeddings delegate,
// or returns (nil, nil) when EMBEDDINGS_PROVIDER is "none" — leaving
// /v1/embeddings and retrieval-augmented chat both disabled.
func buildEmbeddingsProvider(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingsNone, "":
		return nil, nil
	case config.EmbeddingsOpenAI:
		return openai.New(cfg.APIKey, cfg.Model, openai.WithBaseURL(cfg.BaseURL))
	case config.EmbeddingsOllama:
		return ollama.New(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// Run starts the worker loop and serves HTTP until ctx is cancelled or
// the listener fails.
func (a *App) Run(ctx context.Context) error {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(ctx)
	}()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("serving metrics", "addr", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("metrics server error", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("serving", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		<-workerDone
		return ctx.Err()
	case err := <-serveErr:
		<-workerDone
		return err
	}
}

// Shutdown stops accepting new HTTP connections and closes the admission
// queue to new jobs. The worker loop itself stops once Run's ctx is
// cancelled, ending the in-flight job and failing every still-queued job
// with [apperr.KindShuttingDown]. Shutdown then releases the
// active model handle and backend runtime, then releases every
// remaining subsystem in reverse-init order. It respects ctx's
// deadline: shutdown steps still pending when ctx expires are skipped
// and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown error", "error", err)
		}
		if a.metricsServer != nil {
			if err := a.metricsServer.Shutdown(ctx); err != nil {
				a.logger.Warn("metrics server shutdown error", "error", err)
			}
		}

		a.queue.Close()

		if err := a.manager.Close(); err != nil {
			a.logger.Warn("model manager close error", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				a.logger.Warn("telemetry shutdown error", "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
