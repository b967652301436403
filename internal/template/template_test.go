package template_test

import (
	"os"
	"strings"
	"testing"

	"github.com/ahammedyusufb/exsa-engine/internal/template"
	"github.com/ahammedyusufb/exsa-engine/pkg/types"
)

func TestDetectFamily(t *testing.T) {
	cases := map[string]template.Family{
		"/models/meta-llama-3-8b-instruct.Q4_K_M.gguf": template.Llama3,
		"/models/qwen2.5-alpaca-merged.gguf":           template.Alpaca,
		"/models/tinyllama-1.1b-base.gguf":             template.Plain,
		"/models/qwen2.5-7b-instruct.gguf":             template.ChatML,
		"/models/some-chatml-tuned-model.gguf":         template.ChatML,
		"/models/lfm2-1.2b-instruct.gguf":              template.ChatML,
		"/models/mistral-7b-instruct.gguf":             template.Plain,
	}
	for path, want := range cases {
		if got := template.DetectFamily(path); got != want {
			t.Errorf("DetectFamily(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRender_ChatMLIncludesDefaultStop(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are terse."},
		{Role: types.RoleUser, Content: "hi"},
	}
	prompt, stops := template.Render(template.ChatML, messages, nil)
	if !strings.Contains(prompt, "<|im_start|>system") || !strings.Contains(prompt, "<|im_start|>assistant") {
		t.Errorf("prompt missing expected markers: %q", prompt)
	}
	if len(stops) != 1 || stops[0] != "<|im_end|>" {
		t.Errorf("stops = %v, want [<|im_end|>]", stops)
	}
}

func TestRender_UnionsCallerStops(t *testing.T) {
	messages := []types.Message{{Role: types.RoleUser, Content: "hi"}}
	_, stops := template.Render(template.ChatML, messages, []string{"<|im_end|>", "STOP"})
	if len(stops) != 2 {
		t.Fatalf("stops = %v, want 2 deduplicated entries", stops)
	}
}

func TestRender_PlainUsesOnlyCallerStops(t *testing.T) {
	messages := []types.Message{{Role: types.RoleUser, Content: "once upon a time"}}
	prompt, stops := template.Render(template.Plain, messages, []string{"THE END"})
	if prompt != "once upon a time" {
		t.Errorf("prompt = %q", prompt)
	}
	if len(stops) != 1 || stops[0] != "THE END" {
		t.Errorf("stops = %v, want only caller-supplied stop", stops)
	}
}

func TestRender_PlainWithNoCallerStopsHasNone(t *testing.T) {
	messages := []types.Message{{Role: types.RoleUser, Content: "x"}}
	_, stops := template.Render(template.Plain, messages, nil)
	if len(stops) != 0 {
		t.Errorf("stops = %v, want empty", stops)
	}
}

func TestRender_Llama3Markers(t *testing.T) {
	messages := []types.Message{{Role: types.RoleUser, Content: "hi"}}
	prompt, stops := template.Render(template.Llama3, messages, nil)
	if !strings.Contains(prompt, "<|begin_of_text|>") || !strings.Contains(prompt, "<|start_header_id|>assistant") {
		t.Errorf("prompt missing llama3 markers: %q", prompt)
	}
	found := false
	for _, s := range stops {
		if s == "<|eot_id|>" {
			found = true
		}
	}
	if !found {
		t.Errorf("stops = %v, want <|eot_id|> present", stops)
	}
}

func TestLoadOverrides_EmptyPathIsNoop(t *testing.T) {
	o, err := template.LoadOverrides("")
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if len(o.Families) != 0 {
		t.Errorf("expected no families, got %v", o.Families)
	}
}

func TestLoadOverrides_RejectsUnknownFamily(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/templates.yaml"
	content := "families:\n  not-a-family:\n    turn_template: \"{{content}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := template.LoadOverrides(path); err == nil {
		t.Fatal("expected error for unknown family")
	}
}
