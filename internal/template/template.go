// Package template renders a chat conversation into the raw prompt text a
// model's tokenizer expects, and supplies the default stop strings that
// mark the end of the model's turn for each supported template family.
package template

import (
	"strings"

	"github.com/ahammedyusufb/exsa-engine/pkg/types"
)

// Family identifies a chat prompt format.
type Family string

const (
	ChatML Family = "chatml"
	Llama3 Family = "llama3"
	Alpaca Family = "alpaca"
	Plain  Family = "plain"
)

// IsValid reports whether f is a recognized template family.
func (f Family) IsValid() bool {
	switch f {
	case ChatML, Llama3, Alpaca, Plain:
		return true
	default:
		return false
	}
}

// renderer renders a message list into prompt text and reports the
// family's default stop strings.
type renderer interface {
	Render(messages []types.Message) string
	DefaultStops() []string
}

var registry = map[Family]renderer{
	ChatML: chatMLRenderer{},
	Llama3: llama3Renderer{},
	Alpaca: alpacaRenderer{},
	Plain:  plainRenderer{},
}

// DetectFamily infers a template family from a model filename or name,
// using the substring heuristics common to local GGUF model names. It
// falls back to Plain rather than guessing when nothing matches, since
// wrapping an unrecognized model's prompt in the wrong family's control
// tokens is worse than leaving it unadorned.
func DetectFamily(modelPath string) Family {
	name := strings.ToLower(modelPath)
	switch {
	case strings.Contains(name, "llama-3"), strings.Contains(name, "llama3"):
		return Llama3
	case strings.Contains(name, "alpaca"):
		return Alpaca
	case strings.Contains(name, "base"), strings.Contains(name, "-pt-"):
		return Plain
	case strings.Contains(name, "qwen"), strings.Contains(name, "chatml"), strings.Contains(name, "lfm2"):
		return ChatML
	default:
		return Plain
	}
}

// Render produces the prompt text for messages under family, along with
// the stop strings that should terminate generation. callerStops are
// unioned with the family's defaults and deduplicated; for [Plain],
// caller-supplied stops are used exclusively, since a raw/base-model
// prompt has no inherent turn-ending marker.
func Render(family Family, messages []types.Message, callerStops []string) (prompt string, stops []string) {
	r, ok := registry[family]
	if !ok {
		r = registry[ChatML]
	}
	prompt = r.Render(messages)

	if family == Plain {
		return prompt, dedupe(callerStops)
	}
	return prompt, dedupe(append(append([]string{}, r.DefaultStops()...), callerStops...))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type chatMLRenderer struct{}

func (chatMLRenderer) DefaultStops() []string { return []string{"<|im_end|>"} }

func (chatMLRenderer) Render(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

type llama3Renderer struct{}

func (llama3Renderer) DefaultStops() []string {
	return []string{"<|eot_id|>", "<|end_of_text|>"}
}

func (llama3Renderer) Render(messages []types.Message) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		b.WriteString("<|start_header_id|>")
		b.WriteString(string(m.Role))
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(m.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

type alpacaRenderer struct{}

func (alpacaRenderer) DefaultStops() []string { return []string{"### Instruction:"} }

func (alpacaRenderer) Render(messages []types.Message) string {
	var b strings.Builder
	var system strings.Builder
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		}
	}
	if system.Len() > 0 {
		b.WriteString(system.String())
		b.WriteString("\n\n")
	}
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			b.WriteString("### Instruction:\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case types.RoleAssistant:
			b.WriteString("### Response:\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("### Response:\n")
	return b.String()
}

type plainRenderer struct{}

func (plainRenderer) DefaultStops() []string { return nil }

func (plainRenderer) Render(messages []types.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
