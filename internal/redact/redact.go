// Package redact strips PII from memory candidates before they are ever
// persisted. Redaction is one-way: the original value never survives
// anywhere past this step, only a class-tagged token and an entry in
// the returned redaction map (§3 invariant a: "content is never stored
// with raw PII").
package redact

import (
	"fmt"
	"regexp"
)

var patterns = []struct {
	class string
	re    *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"phone", regexp.MustCompile(`\+?\d{1,3}?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"api_key", regexp.MustCompile(`\b(sk|pk|ghp|gho|xox[baprs])-[A-Za-z0-9_\-]{8,}\b`)},
	{"api_key", regexp.MustCompile(`\b[A-Za-z0-9_\-]{32,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
}

// Result holds the redacted content alongside the token->class map that
// must accompany it in storage.
type Result struct {
	Content      string
	RedactionMap map[string]string
}

// Redact replaces every PII match in content with a numbered class token
// ("[EMAIL_1]", "[API_KEY_2]", ...) and records the substitution. Running
// Redact twice on already-redacted content is idempotent: tokens contain
// no PII shapes themselves so no pattern will re-match them.
func Redact(content string) Result {
	counts := make(map[string]int)
	redactionMap := make(map[string]string)
	out := content
	for _, p := range patterns {
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			counts[p.class]++
			token := fmt.Sprintf("[%s_%d]", upper(p.class), counts[p.class])
			redactionMap[token] = p.class
			return token
		})
	}
	return Result{Content: out, RedactionMap: redactionMap}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
