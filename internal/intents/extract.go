package intents

import (
	"regexp"
	"strings"
)

var (
	noObjectRe   = regexp.MustCompile(`(?i)\b` + memorySaveVerb + `\s+(this|that|it)\s*$`)
	quotedRe     = regexp.MustCompile(`['"]([^'"]{2,})['"]`)
	myXIsYRe     = regexp.MustCompile(`(?i)\b` + memorySaveVerb + `\s+that\s+(my\s+.+)$`)
	trailingRememberRe = regexp.MustCompile(`(?i)\s*[—\-,]?\s*` + memorySaveVerb + `\s+(this|that|it)\s+for me\s*\.?\s*$`)
	earlierAboutRe = regexp.MustCompile(`(?i)\b` + memorySaveVerb + `\s+that\s+idea\s+you\s+gave\s+me\s+earlier\s+about\s+(.+)$`)
	requestPhraseRe = regexp.MustCompile(`(?i)^\s*(can you|could you|please)?\s*` + memorySaveVerb + `\s+(this|that|it)?\s*:?\s*`)
)

// ExtractContent runs the case (a)-(f) extraction ladder from §4.6 against
// msg, using history (oldest-first) to resolve "this/that/it" references
// and earlier-idea lookups. It never returns an error: case (f) always
// produces a non-empty fallback for a msg that matched IsMemorySave.
func ExtractContent(msg string, history []string) string {
	trimmed := strings.TrimSpace(msg)

	// (a) bare pronoun object -> most recent assistant message.
	if noObjectRe.MatchString(trimmed) {
		if last := lastNonEmpty(history); last != "" {
			return last
		}
	}

	// (b) quoted content -> the quoted span.
	if m := quotedRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}

	// (c) "remember that my X is Y" -> "my X is Y".
	if m := myXIsYRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[2])
	}

	// (d) "X -- remember that for me" -> content before the remember clause.
	if loc := trailingRememberRe.FindStringIndex(trimmed); loc != nil {
		if before := strings.TrimSpace(trimmed[:loc[0]]); before != "" {
			return before
		}
	}

	// (e) "remember that idea you gave me earlier about X" -> search prior
	// assistant messages for one mentioning X, else most recent.
	if m := earlierAboutRe.FindStringSubmatch(trimmed); m != nil {
		topic := strings.ToLower(strings.TrimSpace(m[2]))
		for i := len(history) - 1; i >= 0; i-- {
			if topic != "" && strings.Contains(strings.ToLower(history[i]), topic) {
				return history[i]
			}
		}
		if last := lastNonEmpty(history); last != "" {
			return last
		}
	}

	// (f) fallback: strip the request phrase and use what remains.
	stripped := strings.TrimSpace(requestPhraseRe.ReplaceAllString(trimmed, ""))
	if stripped != "" {
		return stripped
	}
	return trimmed
}

func lastNonEmpty(history []string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if strings.TrimSpace(history[i]) != "" {
			return history[i]
		}
	}
	return ""
}

// yearRe matches a bare 4-digit year, used by PreserveYears to stop an
// optional query corrector from "fixing" a real year into a stale one.
var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// PreserveYears reports whether corrected keeps every 4-digit year token
// present in original. Callers should reject the correction
// (and use original instead) when this returns false (§4.6: "a critical
// bug class where years like 2025 get corrected to a known past year").
func PreserveYears(original, corrected string) bool {
	origYears := yearRe.FindAllString(original, -1)
	if len(origYears) == 0 {
		return true
	}
	corrYears := map[string]int{}
	for _, y := range yearRe.FindAllString(corrected, -1) {
		corrYears[y]++
	}
	for _, y := range origYears {
		if corrYears[y] == 0 {
			return false
		}
		corrYears[y]--
	}
	return true
}
