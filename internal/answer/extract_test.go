package answer

import (
	"strings"
	"testing"
)

func TestExtractQA_Structured(t *testing.T) {
	raw := "QUESTION: What is a goroutine?\nANSWER: A goroutine is a lightweight thread managed by the Go runtime."
	q, a := ExtractQA(raw, "irrelevant")
	if q != "What is a goroutine?" {
		t.Errorf("question = %q", q)
	}
	if !strings.HasPrefix(a, "A goroutine is") {
		t.Errorf("answer = %q", a)
	}
}

func TestExtractQA_FallbackToInterrogativeScan(t *testing.T) {
	raw := "A goroutine is a lightweight thread."
	source := "so anyway, can you explain what a goroutine is? thanks"
	q, a := ExtractQA(raw, source)
	if !strings.Contains(strings.ToLower(q), "can you explain") {
		t.Errorf("question = %q, want the interrogative substring", q)
	}
	if a != raw {
		t.Errorf("fallback answer should be the full raw reply, got %q", a)
	}
}

func TestExtractQA_GenericLabelFallback(t *testing.T) {
	q, a := ExtractQA("free-form rambling", "no questions here at all")
	if q != fallbackQuestionLabel {
		t.Errorf("question = %q, want the generic label", q)
	}
	if a != "free-form rambling" {
		t.Errorf("answer = %q", a)
	}
}

func TestExtractQA_StripsBoilerplate(t *testing.T) {
	raw := "QUESTION: Why this company?\nANSWER: I admire the mission, also helping you to save money by using resources in a frugal and responsible manner."
	_, a := ExtractQA(raw, "")
	if strings.Contains(strings.ToLower(a), "frugal and responsible") {
		t.Errorf("boilerplate not stripped: %q", a)
	}
}

func TestExtractOption(t *testing.T) {
	reply := "Option A: use a map for O(1) lookups. Option B: sort the slice first. Option C: spawn a worker pool. Recommendation: Option A fits best."

	if got := ExtractOption(reply, "a"); got != "use a map for O(1) lookups." {
		t.Errorf("option a = %q", got)
	}
	if got := ExtractOption(reply, "b"); got != "sort the slice first." {
		t.Errorf("option b = %q", got)
	}
	if got := ExtractOption(reply, "c"); got != "spawn a worker pool." {
		t.Errorf("option c = %q (should stop at Recommendation)", got)
	}
}

func TestExtractOption_AlternateMarkers(t *testing.T) {
	reply := "A) first choice\nB) second choice\nC) third choice"
	if got := ExtractOption(reply, "a"); got != "first choice" {
		t.Errorf("option a = %q", got)
	}
	if got := ExtractOption(reply, "c"); got != "third choice" {
		t.Errorf("option c = %q", got)
	}
}

func TestExtractOption_MissingYieldsEmpty(t *testing.T) {
	if got := ExtractOption("Option A: only one here", "b"); got != "" {
		t.Errorf("missing option should be empty, got %q", got)
	}
}

func TestExtractRecommendation(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"bla bla. I recommend option B because it scales.", "B"},
		{"Option C is the best approach here.", "C"},
		{"A is the best choice given the constraints.", "A"},
		{"The correct answer is option b.", "b"},
		{"Recommendation: Option A, for its simplicity.", "Option A, for its simplicity."},
		{"no guidance at all", ""},
	}
	for _, tc := range cases {
		if got := ExtractRecommendation(tc.text); got != tc.want {
			t.Errorf("ExtractRecommendation(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
