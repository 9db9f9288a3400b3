// Package dedup decides whether a new memory candidate supersedes an
// existing one, per §4.1 step 3: an O(1) topic-grammar fast path, falling
// back to weighted Jaccard keyword overlap plus length similarity.
package dedup

import (
	"regexp"
	"strings"
)

// SupersedeThreshold is the similarity above which a candidate supersedes
// an existing memory instead of creating a new one.
const SupersedeThreshold = 0.75

var topicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*my ([a-z0-9 _-]+?) is (.+)$`),
	regexp.MustCompile(`(?i)^\s*i prefer ([a-z0-9 _-]+?) over (.+)$`),
	regexp.MustCompile(`(?i)^\s*i use ([a-z0-9 _-]+?) for (.+)$`),
	regexp.MustCompile(`(?i)^\s*i work (?:at|for) (.+)$`),
}

// Topic extracts the subject of a statement using the fast-path grammar,
// e.g. "my favorite editor is vim" -> "favorite editor". Returns "" when
// no pattern matches.
func Topic(content string) string {
	content = strings.TrimSpace(content)
	for _, re := range topicPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
	}
	return ""
}

// Similarity reports how similar two pieces of memory content are, in
// [0,1]. When both strings resolve to the same non-empty topic via the
// grammar fast path, they're treated as maximally similar (O(1) path).
// Otherwise it falls back to Jaccard keyword overlap (weight 0.7) plus
// normalized length similarity (weight 0.3).
func Similarity(a, b string) float64 {
	ta, tb := Topic(a), Topic(b)
	if ta != "" && ta == tb {
		return 1.0
	}

	wa := keywordSet(a)
	wb := keywordSet(b)
	jaccard := jaccardIndex(wa, wb)

	la, lb := len(a), len(b)
	lengthSim := 1.0
	if la != lb {
		max, min := la, lb
		if min > max {
			max, min = min, max
		}
		if max > 0 {
			lengthSim = float64(min) / float64(max)
		}
	}

	return 0.7*jaccard + 0.3*lengthSim
}

var wordRe = regexp.MustCompile(`[a-zA-Z0-9']+`)

func keywordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		out[w] = struct{}{}
	}
	return out
}

func jaccardIndex(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// BestMatch scans candidates (most recent N <= 50, per the caller) and
// returns the index of the most similar one along with its score. Returns
// (-1, 0) when candidates is empty.
func BestMatch(content string, candidates []string) (int, float64) {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		s := Similarity(content, c)
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	return bestIdx, bestScore
}

// ShouldSupersede reports whether score meets SupersedeThreshold.
func ShouldSupersede(score float64) bool {
	return score >= SupersedeThreshold
}
