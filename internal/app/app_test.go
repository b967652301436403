package app_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/app"
	"github.com/ahammedyusufb/exsa-engine/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.gguf"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return &config.Config{
		Model: config.ModelConfig{
			Path:        "test.gguf",
			ModelsDir:   dir,
			ContextSize: 2048,
			BatchSize:   2048,
		},
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Admission: config.AdmissionConfig{MaxQueueSize: 4},
		Embeddings: config.EmbeddingsConfig{
			Provider: config.EmbeddingsNone,
		},
		Logging: config.LoggingConfig{Format: config.LogFormatJSON, Level: "info"},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_LoadsModelAndRunsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	// Give the HTTP server a moment to start listening before tearing
	// down; Run itself blocks until ctx is cancelled.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_RejectsMissingEmbeddingsProviderWithRAGEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.Enabled = true
	cfg.RAG.DatabaseURL = "postgres://example/invalid"

	if _, err := app.New(context.Background(), cfg, testLogger()); err == nil {
		t.Fatal("expected an error when RAG is enabled without an embeddings provider")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
