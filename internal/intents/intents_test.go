package intents

import "testing"

func TestClassifyMemorySavePriority(t *testing.T) {
	c := Classify("remember this for me")
	if c.Intent != IntentMemorySave {
		t.Fatalf("expected memory_save, got %v", c.Intent)
	}
}

func TestClassifyMemorySaveBeatsWebSearch(t *testing.T) {
	c := Classify("can you remember to search for this later")
	if c.Intent != IntentMemorySave {
		t.Fatalf("expected memory_save, got %v", c.Intent)
	}
}

func TestIsWebSearchExcludesMemorySave(t *testing.T) {
	if IsWebSearch("can you remember this") {
		t.Fatal("expected remember phrasing to not trigger web search")
	}
}

func TestIsWebSearchExcludesConversationManagement(t *testing.T) {
	if IsWebSearch("did you remember that detail") {
		t.Fatal("expected did-you-remember phrasing excluded")
	}
	if IsMemorySave("you rewrite it and make it more detailed") {
		t.Fatal("expected rewrite phrasing excluded from memory_save")
	}
}

func TestClassifySimpleMath(t *testing.T) {
	c := Classify("12 + 30")
	if c.Intent != IntentSimpleMath {
		t.Fatalf("expected simple_math, got %v", c.Intent)
	}
}

func TestIsCorrectionCue(t *testing.T) {
	if !IsCorrectionCue("no, that's wrong") {
		t.Fatal("expected correction cue detected")
	}
	if IsCorrectionCue("sounds good") {
		t.Fatal("expected no correction cue")
	}
}

func TestExtractContentQuoted(t *testing.T) {
	got := ExtractContent(`remember "I prefer dark roast coffee"`, nil)
	if got != "I prefer dark roast coffee" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractContentNoObjectUsesHistory(t *testing.T) {
	history := []string{"Sure, here's a summary of the plan.", "The deploy window is Tuesday at 9am."}
	got := ExtractContent("remember that", history)
	if got != "The deploy window is Tuesday at 9am." {
		t.Fatalf("got %q", got)
	}
}

func TestExtractContentMyXIsY(t *testing.T) {
	got := ExtractContent("remember that my favorite editor is neovim", nil)
	if got != "my favorite editor is neovim" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractContentTrailingClause(t *testing.T) {
	got := ExtractContent("I always deploy on Fridays - remember this for me.", nil)
	if got != "I always deploy on Fridays" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractContentFallback(t *testing.T) {
	got := ExtractContent("please remember I like concise answers", nil)
	if got != "I like concise answers" {
		t.Fatalf("got %q", got)
	}
}

func TestPreserveYearsRejectsAlteredYear(t *testing.T) {
	if PreserveYears("what happened in 2025", "what happened in 2023") {
		t.Fatal("expected year alteration to be rejected")
	}
}

func TestPreserveYearsAcceptsUnchanged(t *testing.T) {
	if !PreserveYears("what happened in 2025", "what happened in 2025 specifically") {
		t.Fatal("expected unchanged year to be accepted")
	}
}
