package lifecycle_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/backend/mock"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
)

// touch creates an empty file at dir/name, including any parent
// directories, so ValidatePath's existence check succeeds.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func newManager(t *testing.T) (*lifecycle.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return lifecycle.New(lifecycle.Options{
		Runtime:     mock.New(),
		ModelsDir:   dir,
		ContextSize: 2048,
		BatchSize:   512,
		GPULayers:   0,
	}), dir
}

func TestValidatePath_RejectsNonGGUF(t *testing.T) {
	dir := t.TempDir()
	if _, err := lifecycle.ValidatePath(filepath.Join(dir, "foo.bin"), dir); err == nil {
		t.Fatal("expected error for non-.gguf suffix")
	}
}

func TestValidatePath_RejectsEscapeFromModelsDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := lifecycle.ValidatePath("../../etc/passwd.gguf", dir); err == nil {
		t.Fatal("expected error for path escaping models dir")
	}
}

func TestValidatePath_RejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := lifecycle.ValidatePath("missing.gguf", dir)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindInvalidModelPath {
		t.Fatalf("ValidatePath err = %v, want KindInvalidModelPath", err)
	}
}

func TestValidatePath_AcceptsDescendant(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "sub/model.gguf")
	p, err := lifecycle.ValidatePath("sub/model.gguf", dir)
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if p == "" {
		t.Fatal("expected non-empty canonical path")
	}
}

func TestLoad_EmptyToReady(t *testing.T) {
	m, dir := newManager(t)
	touch(t, dir, "test.gguf")
	if m.Status().State != lifecycle.StateEmpty {
		t.Fatalf("initial state = %v, want Empty", m.Status().State)
	}
	if err := m.Load(context.Background(), filepath.Join(dir, "test.gguf")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Status().State != lifecycle.StateReady {
		t.Fatalf("state after load = %v, want Ready", m.Status().State)
	}
}

func TestAcquire_FailsWhenNotReady(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Acquire()
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindModelNotReady {
		t.Fatalf("Acquire err = %v, want KindModelNotReady", err)
	}
}

func TestSwap_BlockedWhileRefHeld(t *testing.T) {
	m, dir := newManager(t)
	touch(t, dir, "a.gguf")
	touch(t, dir, "b.gguf")
	if err := m.Load(context.Background(), filepath.Join(dir, "a.gguf")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	err = m.Load(context.Background(), filepath.Join(dir, "b.gguf"))
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindBusy {
		t.Fatalf("swap-while-busy err = %v, want KindBusy", err)
	}

	ref.Release()
	if err := m.Load(context.Background(), filepath.Join(dir, "b.gguf")); err != nil {
		t.Fatalf("Load after release: %v", err)
	}
	if m.Status().ModelPath == "" {
		t.Fatal("expected a model path after successful swap")
	}
}

func TestUnload_BlockedWhileRefHeld(t *testing.T) {
	m, dir := newManager(t)
	touch(t, dir, "a.gguf")
	if err := m.Load(context.Background(), filepath.Join(dir, "a.gguf")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ref, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Unload(); err == nil {
		t.Fatal("expected Unload to fail while a ref is held")
	}
	ref.Release()
	if err := m.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if m.Status().State != lifecycle.StateEmpty {
		t.Fatalf("state after unload = %v, want Empty", m.Status().State)
	}
}
