package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/intents"
	"github.com/manifold-labs/chatmemory/internal/llm"
	"github.com/manifold-labs/chatmemory/internal/memmodel"
)

// crossThreadSummaryLimit is the "up to 2" bound from §4.3 step 4.
const crossThreadSummaryLimit = 2

// Turn is one prior message in the thread, oldest first.
type Turn struct {
	Role    string // "user" | "assistant"
	Content string
}

// Request is the per-turn input to Assemble.
type Request struct {
	UserID   string
	ThreadID string
	Message  string
	History  []Turn
}

// Assembled is the composed output of a ContextAssembler run: a bounded,
// ordered sequence of provider messages plus routing metadata (§4.3
// Outputs).
type Assembled struct {
	Messages        []llm.Message
	Intent          intents.Intent
	Complexity      intents.Complexity
	MaxOutputTokens int // 0 means "provider default"
	SourceFlags     map[string]bool
}

// Assembler runs Gateway.ContextAssembler.
type Assembler struct {
	Memory     *MemoryClient
	Bus        *bus.Bus
	BasePrompt string
	Tuning     config.ContextTuning
}

// New constructs an Assembler.
func New(memory *MemoryClient, b *bus.Bus, basePrompt string, tuning config.ContextTuning) *Assembler {
	if tuning.KeepLastTurns <= 0 {
		tuning.KeepLastTurns = 10
	}
	if tuning.MaxInputTokens <= 0 {
		tuning.MaxInputTokens = 16000
	}
	if tuning.ProfileDeadlineMS <= 0 {
		tuning.ProfileDeadlineMS = 30
	}
	return &Assembler{Memory: memory, Bus: b, BasePrompt: basePrompt, Tuning: tuning}
}

// Assemble runs the full per-turn pipeline described in §4.3. Every I/O
// stage degrades to "skip, log, continue" on error or deadline (§7):
// the only fatal failure belongs to the provider stream itself, which
// this function never touches.
func (a *Assembler) Assemble(ctx context.Context, req Request) Assembled {
	flags := map[string]bool{}

	// 1. Truncate history.
	turns := truncateHistory(req.History, a.Tuning.KeepLastTurns, a.Tuning.MaxInputTokens)

	// 2. Query analysis.
	classification := intents.Classify(req.Message)

	// 3. Memory recall — always runs, even when research is enabled.
	recallDeadline := time.Duration(a.Tuning.RecallDeadlineDefaultMS) * time.Millisecond
	if recallDeadline <= 0 {
		recallDeadline = 200 * time.Millisecond
	}
	var memoryBlock string
	if a.Memory != nil {
		mems := a.Memory.Recall(ctx, req.UserID, req.ThreadID, req.Message, 10, recallDeadline)
		if len(mems) > 0 {
			memoryBlock = formatMemoryBlock(mems)
			flags["memories"] = true
		}
	}

	// 4. Cross-thread summaries.
	var summaryBlock string
	if a.Memory != nil {
		summaries := a.Memory.RecentSummaries(ctx, req.UserID, req.ThreadID, crossThreadSummaryLimit, recallDeadline)
		if len(summaries) > 0 {
			summaryBlock = formatSummaryBlock(summaries)
			flags["summaries"] = true
		}
	}

	// 5. Profile lookup.
	profileDeadline := time.Duration(a.Tuning.ProfileDeadlineMS) * time.Millisecond
	var profileBlock string
	if a.Memory != nil {
		if p, ok := a.Memory.Profile(ctx, req.UserID, profileDeadline); ok {
			if block := formatProfileBlock(p); block != "" {
				profileBlock = block
				flags["profile"] = true
			}
		}
	}

	// 6. Correction detection.
	var correctionBlock string
	if intents.IsCorrectionCue(req.Message) {
		correctionBlock = "CRITICAL: the user is correcting prior output. Prioritize the current message over any earlier context in this conversation."
		flags["correction"] = true
	}

	// 7. Response-length hint.
	maxOutputTokens := responseLengthHint(classification)

	// 8. Composition: base -> profile -> correction -> memories -> summaries -> turns.
	var messages []llm.Message
	if strings.TrimSpace(a.BasePrompt) != "" {
		messages = append(messages, llm.Message{Role: "system", Content: a.BasePrompt})
	}
	if profileBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: profileBlock})
	}
	if correctionBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: correctionBlock})
	}
	if memoryBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: memoryBlock})
	}
	if summaryBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: summaryBlock})
	}
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	log.Debug().
		Str("user_id", req.UserID).
		Str("thread_id", req.ThreadID).
		Str("intent", string(classification.Intent)).
		Str("complexity", string(classification.Complexity)).
		Int("messages", len(messages)).
		Int("estimated_tokens", llm.EstimateTokensForMessages(messages)).
		Interface("sources", flags).
		Msg("context_assembled")

	return Assembled{
		Messages:        messages,
		Intent:          classification.Intent,
		Complexity:      classification.Complexity,
		MaxOutputTokens: maxOutputTokens,
		SourceFlags:     flags,
	}
}

func truncateHistory(history []Turn, keepLastTurns, maxInputTokens int) []Turn {
	if len(history) > keepLastTurns {
		history = history[len(history)-keepLastTurns:]
	}
	budget := maxInputTokens
	start := 0
	total := 0
	// Walk from the most recent turn backward, keeping everything that
	// fits in the token budget; anything older is dropped.
	for i := len(history) - 1; i >= 0; i-- {
		total += llm.EstimateTokens(history[i].Content)
		if total > budget {
			start = i + 1
			break
		}
	}
	return history[start:]
}

// formatMemoryBlock renders recalled memories as a neutral narrative
// block, one line per memory, never phrased as "You mentioned..." (§4.3
// step 3).
func formatMemoryBlock(mems []memmodel.Memory) string {
	var sb strings.Builder
	sb.WriteString("Relevant facts from prior conversations:\n")
	for _, m := range mems {
		sb.WriteString("- ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSummaryBlock(summaries []memmodel.ThreadSummary) string {
	var sb strings.Builder
	sb.WriteString("Summaries of other recent conversations with this user:\n")
	for _, s := range summaries {
		sb.WriteString("- ")
		sb.WriteString(s.Summary)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatProfileBlock(p memmodel.Profile) string {
	var parts []string
	if len(p.TechStack) > 0 {
		parts = append(parts, fmt.Sprintf("tech stack: %s", strings.Join(p.TechStack, ", ")))
	}
	if len(p.Domains) > 0 {
		parts = append(parts, fmt.Sprintf("domains of interest: %s", strings.Join(p.Domains, ", ")))
	}
	if p.CommunicationStyle != "" {
		parts = append(parts, fmt.Sprintf("preferred communication style: %s", p.CommunicationStyle))
	}
	if len(parts) == 0 {
		return ""
	}
	return "User preferences — " + strings.Join(parts, "; ") + "."
}

// responseLengthHint derives a max-output-tokens override from
// (intent, complexity) per §4.3 step 7. Zero means "provider default".
func responseLengthHint(c intents.Classification) int {
	switch c.Intent {
	case intents.IntentSimpleMath:
		return 10
	case intents.IntentConversationalFollow:
		return 200
	default:
		return 0
	}
}
