package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/admission"
	"github.com/ahammedyusufb/exsa-engine/internal/backend/mock"
	"github.com/ahammedyusufb/exsa-engine/internal/config"
	"github.com/ahammedyusufb/exsa-engine/internal/httpapi"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
	"github.com/ahammedyusufb/exsa-engine/internal/worker"
)

func newTestHandlers(t *testing.T) (*httpapi.Handlers, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.gguf")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	manager := lifecycle.New(lifecycle.Options{
		Runtime:     mock.New(),
		ModelsDir:   dir,
		ContextSize: 4096,
		BatchSize:   512,
	})
	if err := manager.Load(context.Background(), path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	queue := admission.NewQueue[worker.Request](4)
	w := worker.New(queue, manager, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	h := &httpapi.Handlers{
		Config:    &config.Config{Model: config.ModelConfig{ModelsDir: dir}},
		Manager:   manager,
		Queue:     queue,
		Worker:    w,
		StartedAt: time.Now(),
	}
	return h, cancel
}

func TestHealth_ReportsModelLoaded(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	r := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["model_loaded"] != true {
		t.Errorf("model_loaded = %v, want true", body["model_loaded"])
	}
}

func TestChatCompletions_NonStreamingReturnsAssistantMessage(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	reqBody := `{"messages":[{"role":"user","content":"hi"}],"sampling_params":{"temperature":0,"top_k":0,"top_p":1,"min_p":0}}`
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(reqBody))
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content == "" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
	if body.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", body.Choices[0].FinishReason)
	}
}

func TestChatCompletions_RejectsEmptyMessages(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestModelsLoad_RejectsPathOutsideModelsDir(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	r := httptest.NewRequest(http.MethodPost, "/v1/models/load", bytes.NewBufferString(`{"model_path":"/etc/passwd"}`))
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestModelsUnload_NotImplemented(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	r := httptest.NewRequest(http.MethodPost, "/v1/models/unload", nil)
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestEmbeddings_NotImplementedWithoutProvider(t *testing.T) {
	h, cancel := newTestHandlers(t)
	defer cancel()

	r := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewBufferString(`{"model":"x","input":"hi"}`))
	rec := httptest.NewRecorder()
	httpapi.NewRouter(h, nil, nil).ServeHTTP(rec, r)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501, body = %s", rec.Code, rec.Body.String())
	}
}
