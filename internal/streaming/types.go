// Package streaming converts the worker's token channel into the two wire
// formats the HTTP surface exposes: OpenAI-compatible chat completion
// chunks for /v1/chat/completions, and a minimal {token, done} event for
// the legacy /v1/generate path. It also provides a non-streaming
// accumulation path for callers that set stream=false.
package streaming

import "github.com/ahammedyusufb/exsa-engine/internal/worker"

// ChatChunk is one server-sent event body for POST /v1/chat/completions,
// shaped like an OpenAI chat.completion.chunk.
type ChatChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice is the single choice carried by a [ChatChunk]; the core never
// produces more than one candidate per job.
type ChatChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatDelta carries the incremental content of one chunk. Role is set only
// on the first chunk of a stream; Content is omitted on the terminal chunk.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// GenerateEvent is one server-sent event body for the legacy POST
// /v1/generate path.
type GenerateEvent struct {
	Token string          `json:"token,omitempty"`
	Done  bool            `json:"done"`
	Usage *GenerateUsage  `json:"usage,omitempty"`
	Error string          `json:"error,omitempty"`
	Reason worker.FinishReason `json:"reason,omitempty"`
}

// GenerateUsage reports token accounting on the terminal event.
type GenerateUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// finishReason maps a worker.FinishReason to the OpenAI-style string the
// chat chunk table (§6) documents: "stop" for a clean end (EOS or a stop
// string), "length" for hitting max_tokens, "error" for anything else,
// including cancellation.
func finishReason(r worker.FinishReason) string {
	switch r {
	case worker.ReasonStopEOS, worker.ReasonStopString:
		return "stop"
	case worker.ReasonStopMaxTokens:
		return "length"
	default:
		return "error"
	}
}
