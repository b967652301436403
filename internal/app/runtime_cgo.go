//go:build llama_cgo

package app

import (
	"github.com/ahammedyusufb/exsa-engine/internal/backend"
	"github.com/ahammedyusufb/exsa-engine/internal/backend/native"
)

// newRuntime constructs the cgo-backed llama.cpp runtime. Built only
// with -tags llama_cgo; see [native]'s package doc for build requirements.
func newRuntime() backend.Runtime {
	return native.New()
}
