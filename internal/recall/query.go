// Package recall implements Memory.Recall: query preprocessing, hybrid
// keyword+semantic search, and the fusion ranking that orders results for
// the context assembler (§4.2).
package recall

import (
	"regexp"
	"strings"
)

var (
	interrogativeLeaders = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*what (?:is|are|was|were) `),
		regexp.MustCompile(`(?i)^\s*what'?s `),
		regexp.MustCompile(`(?i)^\s*who (?:is|are|was|were) `),
		regexp.MustCompile(`(?i)^\s*where (?:is|are|was|were) `),
		regexp.MustCompile(`(?i)^\s*do (?:i|you) (?:know|remember) `),
		regexp.MustCompile(`(?i)^\s*can you (?:tell me|recall) `),
	}
	possessiveRe  = regexp.MustCompile(`(?i)\b(my|your|his|her|their|our)\s+`)
	contractionRe = map[string]string{
		"don't": "do not", "doesn't": "does not", "didn't": "did not",
		"can't": "cannot", "won't": "will not", "isn't": "is not",
		"aren't": "are not", "i'm": "i am", "it's": "it is",
		"that's": "that is", "what's": "what is",
	}
	stopWords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
		"and": {}, "or": {}, "but": {}, "to": {}, "of": {}, "in": {}, "on": {},
		"for": {}, "with": {}, "it": {}, "this": {}, "that": {}, "i": {}, "you": {},
	}
	// curatedPhrases is the small curated list of recognizable multi-word
	// phrases; the noun-phrase heuristic below supplements it.
	curatedPhrases = []string{
		"tech stack", "favorite editor", "favorite language", "work at",
		"living in", "based in", "prefer over",
	}
)

// Preprocessed holds the normalized query plus its extracted search terms.
type Preprocessed struct {
	Normalized string
	Phrases    []string
	Keywords   []string
}

// Preprocess normalizes a recall query and extracts phrases/keywords. It
// never returns an error: any internal failure degrades to treating the
// raw query as a single keyword, per §4.2's resilience requirement ("on
// any error, fall back to the raw query").
func Preprocess(query string) (result Preprocessed) {
	defer func() {
		if r := recover(); r != nil {
			result = Preprocessed{Normalized: query, Keywords: []string{query}}
		}
	}()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Preprocessed{}
	}

	for contraction, expansion := range contractionRe {
		q = strings.ReplaceAll(q, contraction, expansion)
	}
	q = strings.ReplaceAll(q, "-", " ")

	for _, leader := range interrogativeLeaders {
		q = leader.ReplaceAllString(q, "")
	}
	q = possessiveRe.ReplaceAllString(q, "")
	q = strings.TrimSuffix(strings.TrimSpace(q), "?")
	q = strings.TrimSpace(q)

	var phrases []string
	for _, p := range curatedPhrases {
		if strings.Contains(q, p) {
			phrases = append(phrases, p)
		}
	}

	words := strings.Fields(q)
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
	}
	if len(keywords) == 0 && q != "" {
		keywords = []string{q}
	}

	return Preprocessed{Normalized: q, Phrases: phrases, Keywords: keywords}
}

// FTSQueryString builds the query string handed to the keyword index:
// phrases quoted, keywords ORed.
func (p Preprocessed) FTSQueryString() string {
	var parts []string
	for _, ph := range p.Phrases {
		parts = append(parts, `"`+ph+`"`)
	}
	parts = append(parts, p.Keywords...)
	return strings.Join(parts, " OR ")
}
