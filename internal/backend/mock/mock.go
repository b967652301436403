// Package mock implements a deterministic, dependency-free [backend.Runtime]
// used as the default backend and throughout the test suite. It never
// touches a GPU or a real GGUF file; it exists so the admission, worker,
// and streaming layers can be exercised without hardware.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ahammedyusufb/exsa-engine/internal/backend"
)

const (
	vocabSize  = 32000
	bosToken   = int32(1)
	eosToken   = int32(2)
	padToken   = int32(0)
	firstFresh = int32(3) // token ids below this are reserved
)

// completionWords is the fixed script the mock "model" recites after any
// prompt, token by token, before emitting EOS. Its determinism is what
// lets worker and streaming tests assert exact output.
var completionWords = []string{
	"this", "is", "a", "mock", "completion", "generated", "deterministically", "for", "testing", ".",
}

// Runtime is a [backend.Runtime] that fabricates a [Model] without
// reading any file from disk.
type Runtime struct{}

// New constructs a mock Runtime.
func New() *Runtime { return &Runtime{} }

// Load ignores gpuLayers and returns a Model immediately; path is
// recorded only for diagnostics.
func (r *Runtime) Load(_ context.Context, path string, _ int) (backend.Model, error) {
	m := &Model{path: path, words: make(map[string]int32), pieces: make(map[int32]string)}
	m.pieces[bosToken] = ""
	m.pieces[eosToken] = ""
	m.pieces[padToken] = ""
	m.nextID = firstFresh
	return m, nil
}

func (r *Runtime) Close() error { return nil }

// Model is the mock backend's in-memory "vocabulary": words are assigned
// token ids the first time they are seen, so the same text always
// tokenizes to the same ids within a Model's lifetime.
type Model struct {
	path string

	mu     sync.Mutex
	words  map[string]int32
	pieces map[int32]string
	nextID int32
}

func (m *Model) VocabSize() int      { return vocabSize }
func (m *Model) EOSTokens() []int32  { return []int32{eosToken} }
func (m *Model) Close() error        { return nil }

func (m *Model) NewContext(contextSize, batchSize int) (backend.Context, error) {
	if contextSize <= 0 {
		return nil, fmt.Errorf("mock: context size must be positive, got %d", contextSize)
	}
	return &Context{model: m, capacity: contextSize, batchSize: batchSize}, nil
}

func (m *Model) tokenFor(word string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.words[word]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	if m.nextID >= vocabSize {
		m.nextID = firstFresh
	}
	m.words[word] = id
	m.pieces[id] = word
	return id
}

func (m *Model) pieceFor(id int32) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[id]
	return p, ok
}

// Context is a single decode session over a [Model]'s shared vocabulary.
type Context struct {
	model     *Model
	capacity  int
	batchSize int
	position  int
	genCount  int // number of completion tokens emitted so far
}

func (c *Context) Tokenize(text string, addSpecial bool) ([]int32, error) {
	var ids []int32
	if addSpecial {
		ids = append(ids, bosToken)
	}
	for _, word := range strings.Fields(text) {
		ids = append(ids, c.model.tokenFor(strings.ToLower(word)))
	}
	return ids, nil
}

func (c *Context) Feed(_ context.Context, tokens []int32) error {
	if c.position+len(tokens) > c.capacity {
		return fmt.Errorf("mock: feeding %d tokens at position %d exceeds capacity %d", len(tokens), c.position, c.capacity)
	}
	c.position += len(tokens)
	return nil
}

// Sample returns logits sharply peaked on the next word of the fixed
// completion script, so that greedy (temperature 0) sampling reproduces
// completionWords exactly; once the script is exhausted it peaks on EOS.
func (c *Context) Sample(_ context.Context) ([]float32, error) {
	logits := make([]float32, vocabSize)
	for i := range logits {
		logits[i] = -10
	}

	var favored int32
	if c.genCount < len(completionWords) {
		favored = c.model.tokenFor(completionWords[c.genCount])
	} else {
		favored = eosToken
	}
	logits[favored] = 10
	return logits, nil
}

func (c *Context) DetokenizePiece(token int32) (string, error) {
	if token == eosToken || token == bosToken || token == padToken {
		c.genCount++
		return "", nil
	}
	piece, ok := c.model.pieceFor(token)
	if !ok {
		return "", fmt.Errorf("mock: unknown token id %d", token)
	}
	c.genCount++
	if c.genCount == 1 {
		return piece, nil
	}
	return " " + piece, nil
}

func (c *Context) Position() int { return c.position }
func (c *Context) Capacity() int { return c.capacity }

func (c *Context) Reset() {
	c.position = 0
	c.genCount = 0
}

func (c *Context) Close() error { return nil }
