package httpapi

import (
	"net/http"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/sampling"
	"github.com/ahammedyusufb/exsa-engine/internal/streaming"
	"github.com/ahammedyusufb/exsa-engine/internal/worker"
)

type generateRequest struct {
	Prompt         string        `json:"prompt"`
	SamplingParams *sampling.Raw `json:"sampling_params,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	Stream         *bool         `json:"stream,omitempty"`
	Stop           []string      `json:"stop,omitempty"`
}

type generateResponse struct {
	Text             string `json:"text"`
	FinishReason     string `json:"finish_reason"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Generate implements the legacy raw-prompt completion path: the prompt
// is used verbatim, bypassing chat-template rendering, and only
// caller-supplied stop strings apply.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Prompt == "" {
		respondError(w, apperr.Field("prompt", "must not be empty"))
		return
	}

	var raw sampling.Raw
	if req.SamplingParams != nil {
		raw = *req.SamplingParams
	}
	params, err := sampling.Validate(raw)
	if err != nil {
		respondError(w, err)
		return
	}

	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	stream := req.Stream != nil && *req.Stream

	_, events, err := h.Worker.Submit(r.Context(), worker.Request{
		Raw:         req.Prompt,
		CallerStops: req.Stop,
		Sampling:    params,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if stream {
		// Prompt token count isn't known at this layer until the worker
		// tokenizes the prompt internally, so usage.prompt_tokens is
		// reported as 0 for the streaming path.
		if err := streaming.WriteGenerateStream(w, events, 0); err != nil {
			h.Logger.Warn("failed writing generate stream", "error", err)
		}
		return
	}

	acc := streaming.Accumulate(events)
	if acc.Err != nil {
		respondError(w, acc.Err)
		return
	}
	respondJSON(w, http.StatusOK, generateResponse{
		Text:             acc.Text,
		FinishReason:     string(acc.Reason),
		CompletionTokens: acc.CompletionTokens,
	})
}
