// Package router implements Gateway.Router (§4.4): provider selection,
// streaming delta forwarding with cancellation propagation, and
// post-processing for simple_math and web-search turns.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/assembler"
	"github.com/manifold-labs/chatmemory/internal/intents"
	"github.com/manifold-labs/chatmemory/internal/llm"
)

// MaxTokensSource records why a given max_tokens value was chosen, for
// the "log final max_tokens ... and the source" requirement in §4.4.
type MaxTokensSource string

const (
	SourceOverride     MaxTokensSource = "override"
	SourceProviderCap  MaxTokensSource = "provider_cap"
	SourceGlobalDefault MaxTokensSource = "global_default"
)

// DefaultMaxOutputTokens is the provider-agnostic fallback when nothing
// else sets a cap.
const DefaultMaxOutputTokens = 1024

// Selection is the outcome of SelectProvider.
type Selection struct {
	Provider llm.Provider
	Model    string
	// Reason names which rule fired, for routing logs.
	Reason string
}

// Router selects among the gateway's provider plug-ins and drives the
// streaming loop.
type Router struct {
	Default             llm.Provider
	DefaultModel         string
	HighComplexity       llm.Provider
	HighComplexityModel  string
	Vision               llm.Provider
	VisionModel          string
}

// New constructs a Router. Any provider may be nil; SelectProvider falls
// back to Default when a more specific provider isn't configured.
func New(def llm.Provider, defModel string, highComplexity llm.Provider, highComplexityModel string, vision llm.Provider, visionModel string) *Router {
	return &Router{
		Default: def, DefaultModel: defModel,
		HighComplexity: highComplexity, HighComplexityModel: highComplexityModel,
		Vision: vision, VisionModel: visionModel,
	}
}

// SelectProvider applies the rule-based selection from §4.4: image
// attachments route to the vision provider; complex_reasoning intent or
// complexity=complex route to the high-capability model; otherwise the
// default fast model. overrideModel, when non-empty, always wins.
func (r *Router) SelectProvider(hasImageAttachment bool, intent intents.Intent, complexity intents.Complexity, overrideModel string) Selection {
	if hasImageAttachment && r.Vision != nil {
		model := r.VisionModel
		if overrideModel != "" {
			model = overrideModel
		}
		return Selection{Provider: r.Vision, Model: model, Reason: "image_attachment"}
	}
	if (intent == intents.IntentComplexReasoning || complexity == intents.ComplexityComplex) && r.HighComplexity != nil {
		model := r.HighComplexityModel
		if overrideModel != "" {
			model = overrideModel
		}
		return Selection{Provider: r.HighComplexity, Model: model, Reason: "complex_reasoning"}
	}
	model := r.DefaultModel
	if overrideModel != "" {
		model = overrideModel
	}
	return Selection{Provider: r.Default, Model: model, Reason: "default"}
}

// ResolveMaxTokens picks the effective max_tokens and its source (§4.4).
// It does not log; LogRouting records both along with the query flags.
func ResolveMaxTokens(overrideTokens, assemblerHint int) (int, MaxTokensSource) {
	if overrideTokens > 0 {
		return overrideTokens, SourceOverride
	}
	if assemblerHint > 0 {
		return assemblerHint, SourceProviderCap
	}
	return DefaultMaxOutputTokens, SourceGlobalDefault
}

// DeltaSink receives streamed text deltas; gatewayapi's SSE writer
// implements this.
type DeltaSink interface {
	OnDelta(text string)
}

// streamAccumulator implements llm.StreamHandler, forwarding text deltas
// to sink while accumulating the full response for post-processing.
type streamAccumulator struct {
	sink DeltaSink
	sb   strings.Builder
}

func (a *streamAccumulator) OnDelta(content string) {
	a.sb.WriteString(content)
	if a.sink != nil {
		a.sink.OnDelta(content)
	}
}
func (a *streamAccumulator) OnToolCall(llm.ToolCall)        {}
func (a *streamAccumulator) OnImage(llm.GeneratedImage)     {}
func (a *streamAccumulator) OnThoughtSummary(string)        {}

// StreamResult is the accumulated output of Stream, ready for
// post-processing.
type StreamResult struct {
	Text string
}

// Stream runs sel.Provider.ChatStream, forwarding deltas to sink as they
// arrive. Cancellation of ctx (the client stream closing) cancels the
// upstream provider call (§4.4 "Streaming contract").
func Stream(ctx context.Context, sel Selection, msgs []llm.Message, sink DeltaSink) (StreamResult, error) {
	acc := &streamAccumulator{sink: sink}
	if sel.Provider == nil {
		return StreamResult{}, errNoProvider
	}
	if err := sel.Provider.ChatStream(ctx, msgs, nil, sel.Model, acc); err != nil {
		return StreamResult{Text: acc.sb.String()}, err
	}
	return StreamResult{Text: acc.sb.String()}, nil
}

var errNoProvider = routerError("router: no provider selected")

type routerError string

func (e routerError) Error() string { return string(e) }

var numericLiteralRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// ExtractNumericAnswer implements the simple_math post-processing rule
// (§4.4): extract the first numeric literal from the accumulated
// response and surface it as the canonical stored answer. The streamed
// text itself is left untouched.
func ExtractNumericAnswer(text string) (string, bool) {
	m := numericLiteralRe.FindString(text)
	return m, m != ""
}

// WebSearchContext returns the last n turns of conversation context used
// to compose a final web-search response so that anaphoric follow-ups
// ("which one is most critical") resolve against the prior assistant
// message (§4.4, §6).
func WebSearchContext(history []assembler.Turn, n int) []assembler.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// LogRouting records the final selection and max_tokens decision.
func LogRouting(sel Selection, maxTokens int, source MaxTokensSource, intent intents.Intent, complexity intents.Complexity) {
	log.Debug().
		Str("reason", sel.Reason).
		Str("model", sel.Model).
		Int("max_tokens", maxTokens).
		Str("max_tokens_source", string(source)).
		Str("intent", string(intent)).
		Str("complexity", string(complexity)).
		Msg("router_selected")
}
