// Package native implements [backend.Runtime] on top of llama.cpp via
// cgo. It is compiled only with the llama_cgo build tag, since it
// requires the llama.cpp headers and a prebuilt libllama to be present
// on the build host — a requirement the default build (and every test
// in this repository) avoids by linking [backend/mock] instead.
//
// Run `go build -tags llama_cgo` with CGO_ENABLED=1 and
// CGO_LDFLAGS/CGO_CFLAGS pointed at a llama.cpp checkout to produce a
// binary that loads real GGUF files.
//
//go:build llama_cgo

package native

/*
#cgo LDFLAGS: -lllama -lggml -lm -lstdc++
#include <stdlib.h>
#include "binding.h"
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ahammedyusufb/exsa-engine/internal/backend"
)

// Runtime is the cgo-backed [backend.Runtime]. A process hosts exactly
// one, since llama.cpp's global backend init is not meant to run twice.
type Runtime struct {
	mu          sync.Mutex
	initialized bool
}

// New constructs a Runtime and performs llama.cpp's one-time global
// backend initialization.
func New() *Runtime {
	C.llama_backend_init()
	return &Runtime{initialized: true}
}

func (r *Runtime) Load(ctx context.Context, path string, gpuLayers int) (backend.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, fmt.Errorf("native: runtime closed")
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.exsa_model_load(cPath, C.int(gpuLayers))
	if handle == nil {
		return nil, fmt.Errorf("native: llama.cpp failed to load %q", path)
	}

	vocab := int(C.exsa_model_vocab_size(handle))
	nEOS := int(C.exsa_model_n_eos(handle))
	eos := make([]int32, nEOS)
	if nEOS > 0 {
		ids := C.exsa_model_eos_tokens(handle)
		defer C.free(unsafe.Pointer(ids))
		slice := unsafe.Slice((*C.int32_t)(ids), nEOS)
		for i, id := range slice {
			eos[i] = int32(id)
		}
	}

	return &Model{handle: handle, vocabSize: vocab, eosTokens: eos}, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		C.llama_backend_free()
		r.initialized = false
	}
	return nil
}

// Model wraps a loaded llama.cpp model handle.
type Model struct {
	mu        sync.Mutex
	handle    C.exsa_model_t
	closed    bool
	vocabSize int
	eosTokens []int32
}

func (m *Model) VocabSize() int     { return m.vocabSize }
func (m *Model) EOSTokens() []int32 { return m.eosTokens }

func (m *Model) NewContext(contextSize, batchSize int) (backend.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("native: model closed")
	}
	handle := C.exsa_context_new(m.handle, C.int(contextSize), C.int(batchSize))
	if handle == nil {
		return nil, fmt.Errorf("native: failed to allocate context")
	}
	return &Context{model: m, handle: handle, capacity: contextSize}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	C.exsa_model_free(m.handle)
	m.closed = true
	return nil
}

// Context wraps a llama.cpp context (KV cache). Not safe for concurrent
// use; the worker never shares one across goroutines.
type Context struct {
	mu       sync.Mutex
	model    *Model
	handle   C.exsa_context_t
	capacity int
	position int
	closed   bool
}

func (c *Context) Tokenize(text string, addSpecial bool) ([]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("native: context closed")
	}

	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	maxTokens := C.int(len(text) + 8)
	buf := C.malloc(C.size_t(maxTokens) * C.size_t(unsafe.Sizeof(C.int32_t(0))))
	defer C.free(buf)

	n := C.exsa_tokenize(c.model.handle, cText, C.bool(addSpecial), (*C.int32_t)(buf), maxTokens)
	if n < 0 {
		return nil, fmt.Errorf("native: tokenize buffer too small")
	}

	slice := unsafe.Slice((*C.int32_t)(buf), int(n))
	out := make([]int32, n)
	for i, v := range slice {
		out[i] = int32(v)
	}
	return out, nil
}

func (c *Context) Feed(ctx context.Context, tokens []int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("native: context closed")
	}
	if c.position+len(tokens) > c.capacity {
		return fmt.Errorf("native: feeding %d tokens at position %d exceeds capacity %d", len(tokens), c.position, c.capacity)
	}
	if len(tokens) == 0 {
		return nil
	}

	cTokens := make([]C.int32_t, len(tokens))
	for i, t := range tokens {
		cTokens[i] = C.int32_t(t)
	}

	rc := C.exsa_decode(c.handle, &cTokens[0], C.int(len(cTokens)))
	if rc != 0 {
		return fmt.Errorf("native: decode failed (rc=%d)", int(rc))
	}
	c.position += len(tokens)
	return nil
}

func (c *Context) Sample(ctx context.Context) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("native: context closed")
	}

	vocab := c.model.vocabSize
	buf := C.malloc(C.size_t(vocab) * C.size_t(unsafe.Sizeof(C.float(0))))
	defer C.free(buf)

	C.exsa_get_logits(c.handle, (*C.float)(buf))
	slice := unsafe.Slice((*C.float)(buf), vocab)

	out := make([]float32, vocab)
	for i, v := range slice {
		out[i] = float32(v)
	}
	return out, nil
}

func (c *Context) DetokenizePiece(token int32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("native: context closed")
	}

	buf := make([]byte, 64)
	n := C.exsa_token_to_piece(c.model.handle, C.int32_t(token), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if n < 0 {
		return "", fmt.Errorf("native: detokenize buffer too small for token %d", token)
	}
	return string(buf[:n]), nil
}

func (c *Context) Position() int { return c.position }
func (c *Context) Capacity() int { return c.capacity }

func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	C.exsa_context_clear_kv(c.handle)
	c.position = 0
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	C.exsa_context_free(c.handle)
	c.closed = true
	return nil
}
