package dedup

import "testing"

func TestTopicFastPath(t *testing.T) {
	if got := Topic("my favorite editor is vim"); got != "favorite editor" {
		t.Fatalf("expected 'favorite editor', got %q", got)
	}
	if got := Topic("I prefer tabs over spaces"); got != "tabs" {
		t.Fatalf("expected 'tabs', got %q", got)
	}
	if got := Topic("the weather is nice today"); got != "" {
		t.Fatalf("expected no topic match, got %q", got)
	}
}

func TestSimilaritySameTopicIsMax(t *testing.T) {
	s := Similarity("my favorite editor is vim", "my favorite editor is neovim now")
	if s != 1.0 {
		t.Fatalf("expected 1.0 for same-topic statements, got %v", s)
	}
}

func TestSimilarityUnrelatedIsLow(t *testing.T) {
	s := Similarity("I work at Acme Corp as an engineer", "the weather in Boston is snowy")
	if ShouldSupersede(s) {
		t.Fatalf("expected unrelated statements to not supersede, score=%v", s)
	}
}

func TestBestMatchEmptyCandidates(t *testing.T) {
	idx, score := BestMatch("anything", nil)
	if idx != -1 || score != 0 {
		t.Fatalf("expected (-1, 0) for empty candidates, got (%d, %v)", idx, score)
	}
}
