package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
	"github.com/ahammedyusufb/exsa-engine/internal/template"
)

type modelInfoResponse struct {
	Path            string `json:"path"`
	ContextSize     int    `json:"context_size"`
	GPULayers       int    `json:"gpu_layers"`
	TemplateFamily  string `json:"template_family"`
}

func (h *Handlers) modelInfo(status lifecycle.Status) modelInfoResponse {
	return modelInfoResponse{
		Path:           status.ModelPath,
		ContextSize:    status.ContextSize,
		GPULayers:      status.GPULayers,
		TemplateFamily: string(template.DetectFamily(status.ModelPath)),
	}
}

// ModelInfo reports the active model's path, context size, GPU offload
// count, and detected chat-template family.
func (h *Handlers) ModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.modelInfo(h.Manager.Status()))
}

// ModelsActive is an alias of ModelInfo under the /v1/models namespace.
func (h *Handlers) ModelsActive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.modelInfo(h.Manager.Status()))
}

type modelsListResponse struct {
	Models []string `json:"models"`
}

// ModelsList enumerates the .gguf files found under the configured
// models directory.
func (h *Handlers) ModelsList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.Config.Model.ModelsDir)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.KindBackendError, "failed to read models directory", err))
		return
	}
	models := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			models = append(models, e.Name())
		}
	}
	respondJSON(w, http.StatusOK, modelsListResponse{Models: models})
}

type loadRequest struct {
	ModelPath   string `json:"model_path"`
	GPULayers   *int   `json:"gpu_layers,omitempty"`
	ContextSize *int   `json:"context_size,omitempty"`
}

// ModelsLoad validates and loads the requested model path, optionally
// overriding GPU layer count or context size, hot-swapping the active
// model if one is already loaded.
func (h *Handlers) ModelsLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ModelPath == "" {
		respondError(w, apperr.Field("model_path", "must not be empty"))
		return
	}

	opts := lifecycle.LoadOptions{}
	if req.GPULayers != nil {
		opts.GPULayers = *req.GPULayers
	}
	if req.ContextSize != nil {
		opts.ContextSize = *req.ContextSize
	}

	if err := h.Manager.Load(r.Context(), req.ModelPath, opts); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.modelInfo(h.Manager.Status()))
}

// ModelsReload re-runs Load against the currently active model path.
func (h *Handlers) ModelsReload(w http.ResponseWriter, r *http.Request) {
	path := h.Manager.Status().ModelPath
	if path == "" {
		respondError(w, apperr.New(apperr.KindModelNotReady, "no model is currently loaded to reload"))
		return
	}
	if err := h.Manager.Load(r.Context(), path); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.modelInfo(h.Manager.Status()))
}

// ModelsUnload is not supported: the core keeps exactly one model slot
// and relies on hot-swap rather than an explicit empty state at runtime.
func (h *Handlers) ModelsUnload(w http.ResponseWriter, r *http.Request) {
	respondError(w, apperr.New(apperr.KindNotImplemented, "unloading the active model is not supported; load a replacement instead"))
}
