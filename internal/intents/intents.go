// Package intents implements the gateway's query-analysis rule grammar
// (§4.6): intent classification, memory_save content extraction, and the
// needs_web_search / memory_save disambiguation.
package intents

import (
	"regexp"
	"strings"
)

// Intent is the classification produced by Classify.
type Intent string

const (
	IntentMemorySave          Intent = "memory_save"
	IntentNeedsWebSearch      Intent = "needs_web_search"
	IntentConversationalFollow Intent = "conversational_followup"
	IntentSimpleMath          Intent = "simple_math"
	IntentComplexReasoning    Intent = "complex_reasoning"
	IntentFactual             Intent = "factual"
	IntentOther               Intent = "other"
)

// Complexity is the coarse complexity bucket attached to a classification.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Classification is the result of Classify.
type Classification struct {
	Intent     Intent
	Complexity Complexity
	// Ambiguous is set when the rule grammar could not confidently settle
	// on an intent, signaling the caller to fall back to an LLM classifier.
	Ambiguous bool
}

var (
	memorySaveVerb = `(remember|save|store|memorize|keep|note)`

	memorySaveRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*` + memorySaveVerb + `\b`),
		regexp.MustCompile(`(?i)\b(can you|could you|please)\s+` + memorySaveVerb + `\b`),
		regexp.MustCompile(`(?i)\b` + memorySaveVerb + `\s+(this|that|it|my|i|me|for me)\b`),
		regexp.MustCompile(`(?i)\b` + memorySaveVerb + `\s+['"]`),
	}

	// conversationManagementRe excludes phrasings that look like memory_save
	// or needs_web_search triggers but are really about editing the
	// assistant's own prior output (§4.6 disambiguation).
	conversationManagementRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brewrite\b`),
		regexp.MustCompile(`(?i)\byou rewrite\b`),
		regexp.MustCompile(`(?i)\bstore this as my preference\b`),
		regexp.MustCompile(`(?i)\bdid you remember\b`),
	}

	webSearchRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(search|google|look up|lookup)\b`),
		regexp.MustCompile(`(?i)\b(latest|today|current|breaking)\s+(news|update|price|price of)\b`),
		regexp.MustCompile(`(?i)\bwhat('?s| is) happening\b`),
	}

	correctionCueRe = regexp.MustCompile(`(?i)^\s*(no|wrong|actually|rewrite|i meant)\b`)

	simpleMathRe = regexp.MustCompile(`^\s*-?\d+(\.\d+)?\s*[-+*/x×÷]\s*-?\d+(\.\d+)?(\s*[-+*/x×÷]\s*-?\d+(\.\d+)?)*\s*=?\s*$`)

	factualLeaderRe = regexp.MustCompile(`(?i)^\s*(what|who|where|when|which)\s+(is|are|was|were)\b`)

	followUpRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(and|also|what about|ok|okay|sure|thanks|why)\b`),
		regexp.MustCompile(`(?i)\bwhich one\b`),
	}

	complexReasoningRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(compare|design|architecture|trade[- ]?off|pros and cons|analyze|strategy)\b`),
		regexp.MustCompile(`(?i)\bwalk me through\b`),
	}
)

// IsMemorySave reports whether msg matches the memory_save verb grammar
// and is not one of the conversation-management exclusions.
func IsMemorySave(msg string) bool {
	if isConversationManagement(msg) {
		return false
	}
	for _, re := range memorySaveRe {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// IsWebSearch reports whether msg triggers a web-search intent, explicitly
// excluding memory_save and conversation-management phrasings (§4.6).
func IsWebSearch(msg string) bool {
	if IsMemorySave(msg) || isConversationManagement(msg) {
		return false
	}
	for _, re := range webSearchRe {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

func isConversationManagement(msg string) bool {
	for _, re := range conversationManagementRe {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// IsCorrectionCue reports whether msg begins with a correction cue per
// §4.3 step 6.
func IsCorrectionCue(msg string) bool {
	return correctionCueRe.MatchString(strings.TrimSpace(msg))
}

// Classify runs the rule grammar against msg. The memory_save intent is
// checked first so that "remember ..." is never misrouted to recall or
// web search (§4.6).
func Classify(msg string) Classification {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return Classification{Intent: IntentOther, Complexity: ComplexitySimple}
	}

	if IsMemorySave(trimmed) {
		return Classification{Intent: IntentMemorySave, Complexity: ComplexitySimple}
	}
	if simpleMathRe.MatchString(trimmed) {
		return Classification{Intent: IntentSimpleMath, Complexity: ComplexitySimple}
	}
	if IsWebSearch(trimmed) {
		return Classification{Intent: IntentNeedsWebSearch, Complexity: ComplexityModerate}
	}
	for _, re := range complexReasoningRe {
		if re.MatchString(trimmed) {
			return Classification{Intent: IntentComplexReasoning, Complexity: ComplexityComplex}
		}
	}
	for _, re := range followUpRe {
		if re.MatchString(trimmed) {
			return Classification{Intent: IntentConversationalFollow, Complexity: ComplexitySimple}
		}
	}
	if factualLeaderRe.MatchString(trimmed) {
		return Classification{Intent: IntentFactual, Complexity: ComplexityModerate}
	}

	// Long messages (more than 25 words) with no rule match are treated as
	// ambiguous: the caller may fall back to an LLM classifier (§4.3 step 2).
	words := strings.Fields(trimmed)
	if len(words) > 25 {
		return Classification{Intent: IntentOther, Complexity: ComplexityModerate, Ambiguous: true}
	}
	return Classification{Intent: IntentOther, Complexity: ComplexitySimple}
}
