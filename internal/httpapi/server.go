package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ahammedyusufb/exsa-engine/internal/admission"
	"github.com/ahammedyusufb/exsa-engine/internal/config"
	"github.com/ahammedyusufb/exsa-engine/internal/health"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
	"github.com/ahammedyusufb/exsa-engine/internal/observe"
	"github.com/ahammedyusufb/exsa-engine/internal/rag"
	"github.com/ahammedyusufb/exsa-engine/internal/worker"
	"github.com/ahammedyusufb/exsa-engine/pkg/provider/embeddings"
)

// Handlers holds every collaborator the HTTP surface dispatches into. All
// fields except Config, Manager, Queue, Worker, Logger and StartedAt may be nil —
// retrieval and embeddings are optional delegates.
type Handlers struct {
	Config    *config.Config
	Manager   *lifecycle.Manager
	Queue     *admission.Queue[worker.Request]
	Worker    *worker.Worker
	Retriever rag.Retriever
	Embedder  embeddings.Provider
	Logger    *slog.Logger
	StartedAt time.Time
}

// NewRouter builds the complete route table described by the server's
// external interface: health/status, model lifecycle, generation, chat
// completions, and the embeddings delegate. metrics and limiter may be
// nil, in which case request instrumentation and rate limiting are
// skipped respectively.
func NewRouter(h *Handlers, metrics *observe.Metrics, limiter *admission.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if metrics != nil {
		r.Use(observe.Middleware(metrics))
	}

	if h.Config.Server.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// /healthz and /readyz are orchestrator-facing liveness/readiness
	// probes, distinct from the domain-specific /v1/health below.
	hh := health.New(health.Checker{Name: "model", Check: h.modelReadyCheck})
	r.Get("/healthz", hh.Healthz)
	r.Get("/readyz", hh.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Route("/model", func(r chi.Router) {
			r.Get("/info", h.ModelInfo)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/list", h.ModelsList)
			r.Get("/active", h.ModelsActive)
			r.Post("/load", h.ModelsLoad)
			r.Post("/reload", h.ModelsReload)
			r.Post("/unload", h.ModelsUnload)
		})

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(rateLimitMiddleware(limiter))
			}
			r.Post("/generate", h.Generate)
			r.Post("/chat/completions", h.ChatCompletions)
		})

		r.Post("/embeddings", h.Embeddings)
	})

	return r
}

// rateLimitMiddleware rejects requests exceeding the configured
// sliding-window budget for the caller's peer address with
// [apperr.KindRateLimited], ahead of the bounded queue.
func rateLimitMiddleware(limiter *admission.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := req.RemoteAddr
			if host, _, err := net.SplitHostPort(key); err == nil {
				key = host
			}
			if !limiter.Allow(key, time.Now()) {
				respondError(w, rateLimitedError())
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
