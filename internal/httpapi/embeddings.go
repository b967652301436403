package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
)

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingsResponse struct {
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Data   []embeddingDatum `json:"data"`
}

// embeddingsRequest.Input may arrive as either a single string or an
// array of strings, per the OpenAI embeddings contract; UnmarshalJSON
// normalizes both shapes to a slice.
func (r *embeddingsRequest) UnmarshalJSON(data []byte) error {
	type shape struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}
	var s shape
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.Model = s.Model
	switch v := s.Input.(type) {
	case string:
		r.Input = []string{v}
	case []any:
		r.Input = make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			r.Input = append(r.Input, str)
		}
	}
	return nil
}

// Embeddings delegates to the configured embeddings provider, out of the
// core's scope per spec §1; it is wired only when EMBEDDINGS_PROVIDER is
// set to something other than "none".
func (h *Handlers) Embeddings(w http.ResponseWriter, r *http.Request) {
	if h.Embedder == nil {
		respondError(w, apperr.New(apperr.KindNotImplemented, "no embeddings provider is configured"))
		return
	}

	var req embeddingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Input) == 0 {
		respondError(w, apperr.Field("input", "must not be empty"))
		return
	}

	vectors, err := h.Embedder.EmbedBatch(r.Context(), req.Input)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.KindBackendError, "embeddings provider request failed", err))
		return
	}

	data := make([]embeddingDatum, len(vectors))
	for i, v := range vectors {
		data[i] = embeddingDatum{Object: "embedding", Index: i, Embedding: v}
	}

	model := req.Model
	if model == "" {
		model = h.Embedder.ModelID()
	}
	respondJSON(w, http.StatusOK, embeddingsResponse{Object: "list", Model: model, Data: data})
}
