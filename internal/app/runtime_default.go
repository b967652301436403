//go:build !llama_cgo

package app

import (
	"github.com/ahammedyusufb/exsa-engine/internal/backend"
	"github.com/ahammedyusufb/exsa-engine/internal/backend/mock"
)

// newRuntime constructs the deterministic mock runtime used by every
// build that does not link a real llama.cpp (the common case — tests,
// development, and any environment without CGO_ENABLED).
func newRuntime() backend.Runtime {
	return mock.New()
}
