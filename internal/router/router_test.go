package router

import (
	"context"
	"testing"

	"github.com/manifold-labs/chatmemory/internal/intents"
	"github.com/manifold-labs/chatmemory/internal/llm"
)

type fakeProvider struct {
	deltas []string
	err    error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	for _, d := range f.deltas {
		h.OnDelta(d)
	}
	return f.err
}

type captureSink struct{ got []string }

func (c *captureSink) OnDelta(text string) { c.got = append(c.got, text) }

func TestSelectProviderDefault(t *testing.T) {
	def := &fakeProvider{}
	r := New(def, "fast-model", nil, "", nil, "")
	sel := r.SelectProvider(false, intents.IntentFactual, intents.ComplexitySimple, "")
	if sel.Model != "fast-model" || sel.Reason != "default" {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

func TestSelectProviderComplexReasoning(t *testing.T) {
	def, high := &fakeProvider{}, &fakeProvider{}
	r := New(def, "fast-model", high, "smart-model", nil, "")
	sel := r.SelectProvider(false, intents.IntentComplexReasoning, intents.ComplexitySimple, "")
	if sel.Provider != high || sel.Model != "smart-model" {
		t.Fatalf("expected high-complexity provider selected, got %+v", sel)
	}
}

func TestSelectProviderVisionPrecedence(t *testing.T) {
	def, high, vision := &fakeProvider{}, &fakeProvider{}, &fakeProvider{}
	r := New(def, "fast-model", high, "smart-model", vision, "vision-model")
	sel := r.SelectProvider(true, intents.IntentComplexReasoning, intents.ComplexityComplex, "")
	if sel.Provider != vision || sel.Model != "vision-model" {
		t.Fatalf("expected vision provider to take precedence, got %+v", sel)
	}
}

func TestSelectProviderOverrideModelWins(t *testing.T) {
	def := &fakeProvider{}
	r := New(def, "fast-model", nil, "", nil, "")
	sel := r.SelectProvider(false, intents.IntentFactual, intents.ComplexitySimple, "custom-model")
	if sel.Model != "custom-model" {
		t.Fatalf("expected override model, got %q", sel.Model)
	}
}

func TestResolveMaxTokensPrecedence(t *testing.T) {
	if n, src := ResolveMaxTokens(50, 10); n != 50 || src != SourceOverride {
		t.Fatalf("expected override to win, got %d/%s", n, src)
	}
	if n, src := ResolveMaxTokens(0, 10); n != 10 || src != SourceProviderCap {
		t.Fatalf("expected assembler hint, got %d/%s", n, src)
	}
	if n, src := ResolveMaxTokens(0, 0); n != DefaultMaxOutputTokens || src != SourceGlobalDefault {
		t.Fatalf("expected global default, got %d/%s", n, src)
	}
}

func TestStreamForwardsDeltasAndAccumulates(t *testing.T) {
	p := &fakeProvider{deltas: []string{"Hel", "lo"}}
	sink := &captureSink{}
	res, err := Stream(context.Background(), Selection{Provider: p, Model: "m"}, nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("expected accumulated text %q, got %q", "Hello", res.Text)
	}
	if len(sink.got) != 2 {
		t.Fatalf("expected 2 forwarded deltas, got %d", len(sink.got))
	}
}

func TestExtractNumericAnswer(t *testing.T) {
	n, ok := ExtractNumericAnswer("The answer is 42, clearly.")
	if !ok || n != "42" {
		t.Fatalf("expected 42, got %q ok=%v", n, ok)
	}
}

func TestExtractNumericAnswerNoneFound(t *testing.T) {
	_, ok := ExtractNumericAnswer("no numbers here")
	if ok {
		t.Fatal("expected no numeric literal found")
	}
}
