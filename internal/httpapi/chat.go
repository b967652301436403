package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
	"github.com/ahammedyusufb/exsa-engine/internal/sampling"
	"github.com/ahammedyusufb/exsa-engine/internal/streaming"
	"github.com/ahammedyusufb/exsa-engine/internal/worker"
	"github.com/ahammedyusufb/exsa-engine/pkg/types"
)

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []types.Message `json:"messages"`
	SamplingParams *sampling.Raw `json:"sampling_params,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	TopP           *float64      `json:"top_p,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	Stop           []string      `json:"stop,omitempty"`
	Stream         *bool         `json:"stream,omitempty"`
}

type chatChoiceResponse struct {
	Index        int            `json:"index"`
	Message      types.Message  `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []chatChoiceResponse `json:"choices"`
	Usage   streaming.GenerateUsage `json:"usage"`
}

// ChatCompletions implements the OpenAI-compatible chat endpoint: the
// message history is rendered through the active model's chat template,
// optionally preceded by retrieved context, then streamed or
// accumulated depending on the stream flag.
func (h *Handlers) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, apperr.Field("messages", "must not be empty"))
		return
	}
	for i, m := range req.Messages {
		if !m.Role.IsValid() {
			respondError(w, apperr.Field(fmt.Sprintf("messages[%d].role", i), "must be one of system, user, assistant"))
			return
		}
	}

	messages := h.withRetrievedContext(r, req.Messages)

	var raw sampling.Raw
	if req.SamplingParams != nil {
		raw = *req.SamplingParams
	}
	if req.Temperature != nil {
		raw.Temperature = req.Temperature
	}
	if req.TopP != nil {
		raw.TopP = req.TopP
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

	id, events, err := h.Worker.Submit(r.Context(), worker.Request{
		Messages:    messages,
		CallerStops: req.Stop,
		Sampling:    params,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	model := req.Model
	if model == "" {
		model = h.Manager.Status().ModelPath
	}

	if stream {
		if err := streaming.WriteChatStream(w, events, id.String(), model, time.Now().Unix()); err != nil {
			h.Logger.Warn("failed writing chat stream", "error", err)
		}
		return
	}

	acc := streaming.Accumulate(events)
	if acc.Err != nil {
		respondError(w, acc.Err)
		return
	}
	respondJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      id.String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoiceResponse{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: acc.Text},
			FinishReason: chatFinishReason(acc.Reason),
		}},
		Usage: streaming.GenerateUsage{CompletionTokens: acc.CompletionTokens},
	})
}

func chatFinishReason(reason worker.FinishReason) string {
	switch reason {
	case worker.ReasonStopEOS, worker.ReasonStopString:
		return "stop"
	case worker.ReasonStopMaxTokens:
		return "length"
	default:
		return "error"
	}
}

// withRetrievedContext prepends a system message carrying retrieved
// passages ahead of the conversation, when a retriever is configured.
// Retrieval never fails this call outright — [rag.ResilientRetriever]
// already reduces any failure to an empty result.
func (h *Handlers) withRetrievedContext(r *http.Request, messages []types.Message) []types.Message {
	if h.Retriever == nil || len(messages) == 0 {
		return messages
	}
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	if lastUser == "" {
		return messages
	}

	topK := h.Config.RAG.TopK
	if topK <= 0 {
		topK = 4
	}
	passages, err := h.Retriever.Retrieve(r.Context(), lastUser, topK)
	if err != nil || len(passages) == 0 {
		return messages
	}

	var b strings.Builder
	b.WriteString("Use the following retrieved context if relevant:\n\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "- %s\n", p.Content)
	}

	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.Message{Role: types.RoleSystem, Content: b.String()})
	out = append(out, messages...)
	return out
}
