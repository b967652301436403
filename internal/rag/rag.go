// Package rag wraps the optional retrieval-augmented-generation step the
// chat path consults before prompt assembly. The core treats retrieval as
// an external collaborator: a flaky or slow store must never block or
// destabilize the inference hot path, so every retriever is expected to be
// wrapped in a [resilience.CircuitBreaker] that skips retrieval rather than
// failing the job when the store is unhealthy.
package rag

import "context"

// Passage is a single retrieved chunk of context, ready to be folded into
// a prompt ahead of the user's turn.
type Passage struct {
	Content string
	Score   float32
	Source  string
}

// Retriever finds the topK passages most relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}
