// Package lifecycle manages the single model a process may have loaded
// at a time: its state machine (Empty, Loading, Ready, Swapping,
// Failed), path validation, and refcounted retirement of a superseded
// model so an in-flight job is never yanked out from under the worker.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/backend"
)

// State is one of the five states a Manager can occupy.
type State string

const (
	StateEmpty    State = "empty"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateSwapping State = "swapping"
	StateFailed   State = "failed"
)

// Status is a point-in-time snapshot of the manager, safe to hold and
// inspect after the call that produced it returns.
type Status struct {
	State        State
	ModelPath    string
	ContextSize  int
	BatchSize    int
	GPULayers    int
	LoadError    string
	LoadedAt     time.Time
	RefCount     int32
}

// Options configures a [Manager].
type Options struct {
	Runtime     backend.Runtime
	ModelsDir   string
	ContextSize int
	BatchSize   int
	GPULayers   int
}

// Manager owns the process's single active model and enforces the
// load/swap/unload state machine described by the core's lifecycle
// invariants: a model is either absent, loading, ready, swapping, or
// failed, and a swap may only begin when nothing currently holds a
// reference to the active handle.
type Manager struct {
	runtime     backend.Runtime
	modelsDir   string
	contextSize int
	batchSize   int
	gpuLayers   int

	mu        sync.Mutex
	state     State
	modelPath string
	loadErr   error
	loadedAt  time.Time
	active    *handle
}

// New constructs a Manager in the Empty state.
func New(opts Options) *Manager {
	return &Manager{
		runtime:     opts.Runtime,
		modelsDir:   opts.ModelsDir,
		contextSize: opts.ContextSize,
		batchSize:   opts.BatchSize,
		gpuLayers:   opts.GPULayers,
		state:       StateEmpty,
	}
}

// handle wraps a loaded model and its single reusable decode context,
// tracking how many callers currently hold it so retirement can wait
// for the last one to finish.
type handle struct {
	model   backend.Model
	ctx     backend.Context
	refs    atomic.Int32
	retired atomic.Bool
}

func (h *handle) release() {
	if h.refs.Add(-1) == 0 && h.retired.Load() {
		h.close()
	}
}

func (h *handle) close() {
	h.ctx.Close()
	h.model.Close()
}

// Ref is an acquired reference to the active model's decode context.
// Callers must call Release exactly once when done.
type Ref struct {
	h *handle
}

// Context returns the decode context to drive for this job.
func (r *Ref) Context() backend.Context { return r.h.ctx }

// Model returns the loaded model backing this job, mainly so the caller
// can look up properties like its EOS token set.
func (r *Ref) Model() backend.Model { return r.h.model }

// Release returns the reference. If the handle has since been retired
// by a swap and this was the last outstanding reference, the retired
// model is closed here.
func (r *Ref) Release() { r.h.release() }

// ValidatePath checks that path has a .gguf suffix, canonicalizes to a
// path inside modelsDir, and confirms the file exists there, returning
// the cleaned absolute path. Non-existence is rejected here rather than
// left for the runtime to discover, so a bad path surfaces as
// [apperr.KindInvalidModelPath] (400) instead of a load failure (500).
func ValidatePath(path, modelsDir string) (string, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".gguf") {
		return "", apperr.New(apperr.KindInvalidModelPath, "model path must have a .gguf suffix")
	}

	absDir, err := filepath.Abs(modelsDir)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidModelPath, "could not resolve models directory", err)
	}
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(absDir, path))
	}

	rel, err := filepath.Rel(absDir, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindInvalidModelPath, "model path must resolve inside the configured models directory")
	}

	if _, err := os.Stat(candidate); err != nil {
		return "", apperr.Wrap(apperr.KindInvalidModelPath, fmt.Sprintf("model file %q does not exist", candidate), err)
	}
	return candidate, nil
}

// Status returns a snapshot of the manager's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:       m.state,
		ModelPath:   m.modelPath,
		ContextSize: m.contextSize,
		BatchSize:   m.batchSize,
		GPULayers:   m.gpuLayers,
		LoadedAt:    m.loadedAt,
	}
	if m.loadErr != nil {
		s.LoadError = m.loadErr.Error()
	}
	if m.active != nil {
		s.RefCount = m.active.refs.Load()
	}
	return s
}

// LoadOptions overrides the manager's configured context size, batch
// size, or GPU layer count for a single load call. A zero field keeps
// the manager's current value.
type LoadOptions struct {
	ContextSize int
	BatchSize   int
	GPULayers   int
}

// Load validates path and loads it as the active model. It may be
// called from Empty (initial load) or Ready (a swap); in the Ready
// case it fails with [apperr.KindBusy] while a job holds a reference to
// the active model. Load does not itself check the admission queue. opts may
// be omitted to reuse the manager's existing configuration, or supplied
// once to override context size, batch size, and/or GPU layers for this
// and subsequent loads.
func (m *Manager) Load(ctx context.Context, path string, opts ...LoadOptions) error {
	validated, err := ValidatePath(path, m.modelsDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case StateLoading, StateSwapping:
		m.mu.Unlock()
		return apperr.New(apperr.KindBusy, "a model load is already in progress")
	case StateReady:
		if m.active != nil && m.active.refs.Load() > 0 {
			m.mu.Unlock()
			return apperr.New(apperr.KindBusy, "cannot swap while a job is in flight")
		}
		m.state = StateSwapping
	default:
		m.state = StateLoading
	}
	if len(opts) > 0 {
		o := opts[0]
		if o.ContextSize > 0 {
			m.contextSize = o.ContextSize
		}
		if o.BatchSize > 0 {
			m.batchSize = o.BatchSize
		}
		if o.GPULayers > 0 {
			m.gpuLayers = o.GPULayers
		}
	}
	contextSize, batchSize, gpuLayers := m.contextSize, m.batchSize, m.gpuLayers
	previous := m.active
	m.mu.Unlock()

	model, err := m.runtime.Load(ctx, validated, gpuLayers)
	if err != nil {
		wrapped := apperr.Wrap(apperr.KindModelLoadError, fmt.Sprintf("failed to load model %q", validated), err)
		m.mu.Lock()
		m.state = StateFailed
		m.loadErr = wrapped
		m.mu.Unlock()
		return wrapped
	}

	decodeCtx, err := model.NewContext(contextSize, batchSize)
	if err != nil {
		model.Close()
		wrapped := apperr.Wrap(apperr.KindModelLoadError, "failed to allocate decode context", err)
		m.mu.Lock()
		m.state = StateFailed
		m.loadErr = wrapped
		m.mu.Unlock()
		return wrapped
	}

	m.mu.Lock()
	m.active = &handle{model: model, ctx: decodeCtx}
	m.modelPath = validated
	m.state = StateReady
	m.loadErr = nil
	m.loadedAt = now()
	m.mu.Unlock()

	if previous != nil {
		retire(previous)
	}
	return nil
}

// Unload retires the active model, returning the manager to Empty. It
// fails if a job currently holds a reference.
func (m *Manager) Unload() error {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return apperr.New(apperr.KindModelNotReady, "no model is loaded")
	}
	if m.active != nil && m.active.refs.Load() > 0 {
		m.mu.Unlock()
		return apperr.New(apperr.KindBusy, "cannot unload while a job is in flight")
	}
	previous := m.active
	m.active = nil
	m.modelPath = ""
	m.state = StateEmpty
	m.mu.Unlock()

	if previous != nil {
		retire(previous)
	}
	return nil
}

// Close releases the active model handle, if any, and closes the
// underlying runtime. It is meant for process shutdown, after the
// caller has confirmed no job still holds a reference; unlike Unload it
// does not fail when a model is loaded but idle, and it leaves the
// manager in the Empty state regardless of its prior state.
func (m *Manager) Close() error {
	m.mu.Lock()
	previous := m.active
	m.active = nil
	m.modelPath = ""
	m.state = StateEmpty
	m.mu.Unlock()

	if previous != nil {
		retire(previous)
	}
	return m.runtime.Close()
}

// Acquire returns a [Ref] to the active model's decode context, or a
// [apperr.KindModelNotReady] error if no model is ready.
func (m *Manager) Acquire() (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.active == nil {
		return nil, apperr.New(apperr.KindModelNotReady, "no model is ready")
	}
	m.active.refs.Add(1)
	return &Ref{h: m.active}, nil
}

func retire(h *handle) {
	h.retired.Store(true)
	if h.refs.Load() == 0 {
		h.close()
	}
}

// now is a seam so tests could inject a clock if ever needed; today it
// simply reports wall time.
func now() time.Time { return time.Now() }
