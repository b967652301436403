package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ahammedyusufb/exsa-engine/internal/worker"
)

// setSSEHeaders configures w for a server-sent event stream. Callers must
// do this before writing any bytes.
func setSSEHeaders(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return flusher, nil
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// WriteChatStream drains events and writes them as OpenAI-style
// chat.completion.chunk SSE events, preserving channel order and never
// buffering more than the one chunk currently being written — backpressure
// from a slow client flows straight back to the worker through events
// itself. The caller's request context should already bound how long this
// blocks; WriteChatStream does not itself watch for disconnection beyond
// what closing events causes the worker to observe.
func WriteChatStream(w http.ResponseWriter, events <-chan worker.Event, id, model string, created int64) error {
	flusher, err := setSSEHeaders(w)
	if err != nil {
		return err
	}

	first := true
	for ev := range events {
		if ev.Done {
			reason := finishReason(ev.Reason)
			chunk := ChatChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []ChatChoice{{Index: 0, Delta: ChatDelta{}, FinishReason: &reason}},
			}
			if err := writeSSE(w, flusher, chunk); err != nil {
				return err
			}
			writeSSEDone(w, flusher)
			if ev.Err != nil {
				return ev.Err
			}
			return nil
		}

		delta := ChatDelta{Content: ev.Text}
		if first {
			delta.Role = "assistant"
			first = false
		}
		chunk := ChatChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []ChatChoice{{Index: 0, Delta: delta, FinishReason: nil}},
		}
		if err := writeSSE(w, flusher, chunk); err != nil {
			return err
		}
	}
	return nil
}

// WriteGenerateStream drains events and writes them as the legacy
// {token, done} SSE shape used by POST /v1/generate.
func WriteGenerateStream(w http.ResponseWriter, events <-chan worker.Event, promptTokens int) error {
	flusher, err := setSSEHeaders(w)
	if err != nil {
		return err
	}

	for ev := range events {
		if ev.Done {
			out := GenerateEvent{
				Done:   true,
				Reason: ev.Reason,
				Usage:  &GenerateUsage{PromptTokens: promptTokens, CompletionTokens: ev.TokensGenerated},
			}
			if ev.Err != nil {
				out.Error = safeErrorMessage(ev.Err)
			}
			if err := writeSSE(w, flusher, out); err != nil {
				return err
			}
			return nil
		}
		if err := writeSSE(w, flusher, GenerateEvent{Token: ev.Text}); err != nil {
			return err
		}
	}
	return nil
}

// Accumulated is the non-streaming result of draining a job's event
// channel to completion.
type Accumulated struct {
	Text             string
	Reason           worker.FinishReason
	CompletionTokens int
	Err              error
}

// Accumulate drains events into a single response, for callers that set
// stream=false. It never returns until the terminal event arrives.
func Accumulate(events <-chan worker.Event) Accumulated {
	var out Accumulated
	var text []byte
	for ev := range events {
		if ev.Done {
			out.Reason = ev.Reason
			out.CompletionTokens = ev.TokensGenerated
			out.Err = ev.Err
			break
		}
		text = append(text, ev.Text...)
	}
	out.Text = string(text)
	return out
}

// safeErrorMessage returns a client-safe description of err, never leaking
// internal details beyond what [apperr.Error] already exposes as its
// message.
func safeErrorMessage(err error) string {
	return err.Error()
}
