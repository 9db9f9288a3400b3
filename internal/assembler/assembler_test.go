package assembler

import (
	"context"
	"testing"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/intents"
)

func TestAssembleComposesBasePromptAndUserTurn(t *testing.T) {
	a := New(nil, bus.New(config.RedisConfig{Enabled: false}), "You are a helpful assistant.", config.ContextTuning{})
	out := a.Assemble(context.Background(), Request{
		UserID:  "u1",
		Message: "what's the weather like",
	})
	if len(out.Messages) < 2 {
		t.Fatalf("expected at least base prompt + user turn, got %d messages", len(out.Messages))
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "You are a helpful assistant." {
		t.Fatalf("expected base prompt first, got %+v", out.Messages[0])
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Role != "user" || last.Content != "what's the weather like" {
		t.Fatalf("expected user turn last, got %+v", last)
	}
}

func TestAssembleDetectsMemorySaveIntent(t *testing.T) {
	a := New(nil, bus.New(config.RedisConfig{Enabled: false}), "", config.ContextTuning{})
	out := a.Assemble(context.Background(), Request{UserID: "u1", Message: "remember that my favorite editor is neovim"})
	if out.Intent != intents.IntentMemorySave {
		t.Fatalf("expected memory_save, got %v", out.Intent)
	}
}

func TestAssembleCorrectionCueAddsSystemBlock(t *testing.T) {
	a := New(nil, bus.New(config.RedisConfig{Enabled: false}), "base", config.ContextTuning{})
	out := a.Assemble(context.Background(), Request{UserID: "u1", Message: "no, that's wrong, try again"})
	if !out.SourceFlags["correction"] {
		t.Fatal("expected correction flag set")
	}
}

func TestAssembleSimpleMathHint(t *testing.T) {
	a := New(nil, bus.New(config.RedisConfig{Enabled: false}), "", config.ContextTuning{})
	out := a.Assemble(context.Background(), Request{UserID: "u1", Message: "12 + 30"})
	if out.MaxOutputTokens != 10 {
		t.Fatalf("expected max_output_tokens=10 for simple_math, got %d", out.MaxOutputTokens)
	}
}

func TestTruncateHistoryKeepsMostRecent(t *testing.T) {
	history := make([]Turn, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, Turn{Role: "user", Content: "turn"})
	}
	out := truncateHistory(history, 10, 16000)
	if len(out) != 10 {
		t.Fatalf("expected 10 turns kept, got %d", len(out))
	}
}

func TestPollCapsuleMissReturnsFalseWithoutBlockingPastBudget(t *testing.T) {
	b := bus.New(config.RedisConfig{Enabled: false})
	stop := make(chan struct{})
	close(stop)
	_, ok := PollCapsule(context.Background(), b, "t1", 0, 0, stop)
	if ok {
		t.Fatal("expected no capsule found against a disabled bus")
	}
}
