package rag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/rag"
	"github.com/ahammedyusufb/exsa-engine/internal/resilience"
)

type stubRetriever struct {
	passages []rag.Passage
	err      error
	calls    int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int) ([]rag.Passage, error) {
	s.calls++
	return s.passages, s.err
}

func TestResilientRetriever_PassesThroughOnSuccess(t *testing.T) {
	stub := &stubRetriever{passages: []rag.Passage{{Content: "a"}}}
	r := rag.NewResilientRetriever(stub, resilience.CircuitBreakerConfig{}, nil)

	got, err := r.Retrieve(context.Background(), "q", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Content != "a" {
		t.Errorf("got %+v, want one passage", got)
	}
}

func TestResilientRetriever_SkipsInsteadOfFailing(t *testing.T) {
	stub := &stubRetriever{err: errors.New("database unreachable")}
	r := rag.NewResilientRetriever(stub, resilience.CircuitBreakerConfig{MaxFailures: 1}, nil)

	got, err := r.Retrieve(context.Background(), "q", 4)
	if err != nil {
		t.Fatalf("Retrieve should never return an error, got %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil on failure", got)
	}
}

func TestResilientRetriever_SkipsWhenCircuitOpen(t *testing.T) {
	stub := &stubRetriever{err: errors.New("boom")}
	r := rag.NewResilientRetriever(stub, resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, nil)

	r.Retrieve(context.Background(), "q", 4)
	callsAfterFirstTrip := stub.calls

	got, err := r.Retrieve(context.Background(), "q", 4)
	if err != nil {
		t.Fatalf("Retrieve should never return an error, got %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil while circuit is open", got)
	}
	if stub.calls != callsAfterFirstTrip {
		t.Errorf("inner retriever should not be called while circuit is open")
	}
}
