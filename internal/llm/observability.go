package llm

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/manifold-labs/chatmemory/internal/observability"
)

var (
	mu                   sync.RWMutex
	enablePayloadLogging = false
	truncateBytes        = 0
)

var (
	tokenOnce         sync.Once
	promptCounter     otelmetric.Int64Counter
	completionCounter otelmetric.Int64Counter
)

func ensureTokenInstruments() {
	tokenOnce.Do(func() {
		m := otel.Meter("internal/llm")
		promptCounter, _ = m.Int64Counter("llm.prompt_tokens", otelmetric.WithDescription("Cumulative prompt tokens by model"))
		completionCounter, _ = m.Int64Counter("llm.completion_tokens", otelmetric.WithDescription("Cumulative completion tokens by model"))
	})
}

// RecordTokenMetrics records prompt/completion token usage for model as
// OTel counters, keyed by model name.
func RecordTokenMetrics(model string, promptTokens, completionTokens int) {
	if model == "" || (promptTokens == 0 && completionTokens == 0) {
		return
	}
	ensureTokenInstruments()
	ctx := context.Background()
	if promptCounter != nil && promptTokens > 0 {
		promptCounter.Add(ctx, int64(promptTokens), otelmetric.WithAttributes(attribute.String("llm.model", model)))
	}
	if completionCounter != nil && completionTokens > 0 {
		completionCounter.Add(ctx, int64(completionTokens), otelmetric.WithAttributes(attribute.String("llm.model", model)))
	}
}

// ConfigureLogging sets whether redacted prompt/response payloads are
// logged at debug level, and how many bytes of a payload to keep before
// truncating. Call once at startup.
func ConfigureLogging(enable bool, truncate int) {
	mu.Lock()
	defer mu.Unlock()
	enablePayloadLogging = enable
	truncateBytes = truncate
}

func shouldLog() (bool, int) {
	mu.RLock()
	defer mu.RUnlock()
	return enablePayloadLogging, truncateBytes
}

// StartRequestSpan starts a tracer span for an LLM request.
func StartRequestSpan(ctx context.Context, operation, model string, tools, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.tools", tools), attribute.Int("llm.messages", messages))
	return ctx, span
}

// LogRedactedPrompt logs a PII-redacted copy of msgs at debug level, a
// no-op unless ConfigureLogging(true, ...) was called.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	if ok, t := shouldLog(); ok {
		logRedacted(ctx, "prompt", "llm_request", msgs, t)
	}
}

// LogRedactedResponse logs a PII-redacted copy of resp at debug level.
func LogRedactedResponse(ctx context.Context, resp any) {
	if ok, t := shouldLog(); ok {
		logRedacted(ctx, "response", "llm_response", resp, t)
	}
}

func logRedacted(ctx context.Context, field, event string, payload any, truncate int) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	if truncate > 0 && len(red) > truncate {
		preview, _ := json.Marshal(map[string]any{"truncated": true, "preview": string(red[:truncate])})
		red = preview
	}
	logger := observability.LoggerWithTrace(ctx)
	entry := logger.With().RawJSON(field, red).Logger()
	entry.Debug().Msg(event)
}

// RecordTokenAttributes sets token count attributes on span.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
		attribute.Int("llm.total_tokens", totalTokens),
	)
}
