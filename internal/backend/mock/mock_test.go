package mock_test

import (
	"context"
	"testing"

	"github.com/ahammedyusufb/exsa-engine/internal/backend/mock"
)

func TestTokenize_StableAcrossCalls(t *testing.T) {
	rt := mock.New()
	model, err := rt.Load(context.Background(), "/models/test.gguf", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx, err := model.NewContext(128, 32)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	a, err := ctx.Tokenize("hello world", false)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	b, err := ctx.Tokenize("hello world", false)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(a) != 2 || len(b) != 2 || a[0] != b[0] || a[1] != b[1] {
		t.Errorf("tokenize not stable: %v vs %v", a, b)
	}
}

func TestFeed_RejectsOverflow(t *testing.T) {
	rt := mock.New()
	model, _ := rt.Load(context.Background(), "/models/test.gguf", 0)
	ctx, _ := model.NewContext(4, 4)

	tokens, _ := ctx.Tokenize("one two three four five", true)
	if err := ctx.Feed(context.Background(), tokens); err == nil {
		t.Fatal("expected overflow error feeding more tokens than capacity")
	}
}

func TestSampleAndDetokenize_ReproducesScript(t *testing.T) {
	rt := mock.New()
	model, _ := rt.Load(context.Background(), "/models/test.gguf", 0)
	ctx, _ := model.NewContext(256, 64)

	prompt, _ := ctx.Tokenize("hi", true)
	if err := ctx.Feed(context.Background(), prompt); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	var out string
	eos := model.EOSTokens()[0]
	for i := 0; i < 64; i++ {
		logits, err := ctx.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		best := argmax(logits)
		if best == eos {
			break
		}
		piece, err := ctx.DetokenizePiece(best)
		if err != nil {
			t.Fatalf("DetokenizePiece: %v", err)
		}
		out += piece
		if err := ctx.Feed(context.Background(), []int32{best}); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	if out != "this is a mock completion generated deterministically for testing ." {
		t.Errorf("out = %q", out)
	}
}

func TestReset_ClearsPosition(t *testing.T) {
	rt := mock.New()
	model, _ := rt.Load(context.Background(), "/models/test.gguf", 0)
	ctx, _ := model.NewContext(16, 16)

	tokens, _ := ctx.Tokenize("hello", true)
	ctx.Feed(context.Background(), tokens)
	if ctx.Position() == 0 {
		t.Fatal("expected nonzero position after feed")
	}
	ctx.Reset()
	if ctx.Position() != 0 {
		t.Errorf("Position after Reset = %d, want 0", ctx.Position())
	}
}

func argmax(logits []float32) int32 {
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return int32(best)
}
