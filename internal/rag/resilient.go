package rag

import (
	"context"
	"log/slog"

	"github.com/ahammedyusufb/exsa-engine/internal/resilience"
)

// ResilientRetriever wraps a [Retriever] in a [resilience.CircuitBreaker].
// A tripped breaker, or any retrieval error, causes Retrieve to return an
// empty result with no error rather than propagate the failure: prompt
// assembly proceeds without retrieved context instead of stalling or
// failing the job, per the core's low-first-token-latency goal.
type ResilientRetriever struct {
	inner   Retriever
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewResilientRetriever wraps inner with a circuit breaker configured by
// cfg. logger may be nil, in which case [slog.Default] is used.
func NewResilientRetriever(inner Retriever, cfg resilience.CircuitBreakerConfig, logger *slog.Logger) *ResilientRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "rag"
	}
	return &ResilientRetriever{inner: inner, breaker: resilience.NewCircuitBreaker(cfg), logger: logger}
}

// Retrieve implements [Retriever]. It never returns an error: a failed or
// skipped retrieval simply yields no passages.
func (r *ResilientRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	var result []Passage
	err := r.breaker.Execute(func() error {
		var innerErr error
		result, innerErr = r.inner.Retrieve(ctx, query, topK)
		return innerErr
	})
	if err != nil {
		r.logger.WarnContext(ctx, "rag retrieval skipped", "error", err)
		return nil, nil
	}
	return result, nil
}
