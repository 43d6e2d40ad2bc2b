package aggregate

import (
	"regexp"
	"strings"
	"time"

	"github.com/solomid123/marooc/internal/transcript"
)

// Pure decision functions for the merge/trigger policy. Keeping them free of
// state makes the policy testable without driving the whole pipeline.

var (
	multipleChoiceMarker = regexp.MustCompile(`(?i)option\s+[abc]\b|answer\s+option\s+[abc]\b|choose\s+[abc]\b`)

	optionA = regexp.MustCompile(`(?i)option\s+a\b`)
	optionB = regexp.MustCompile(`(?i)option\s+b\b`)
	optionC = regexp.MustCompile(`(?i)option\s+c\b`)
)

// hasMultipleChoiceMarker reports whether the text mentions any option in a
// multiple-choice phrasing.
func hasMultipleChoiceMarker(text string) bool {
	return multipleChoiceMarker.MatchString(text)
}

// hasAllOptions reports whether options A, B, and C are all present, the
// signal that a multiple-choice question has arrived in full.
func hasAllOptions(text string) bool {
	return optionA.MatchString(text) && optionB.MatchString(text) && optionC.MatchString(text)
}

// looksLikeQuestion detects ordinary questions by punctuation or common
// interview openers.
func looksLikeQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "tell me about") || strings.Contains(lower, "describe")
}

// isContinuation decides whether a new final fragment extends the previous
// item rather than starting a new one. All conditions must hold: the items
// share a speaker, the previous item is recent, and at least one side carries
// a multiple-choice marker. Backends split option lists across fragment
// boundaries, so only multiple-choice text merges.
func isContinuation(prev *Item, speaker transcript.Speaker, newText string, now time.Time, window time.Duration) bool {
	if prev == nil {
		return false
	}
	if prev.Speaker != speaker {
		return false
	}
	if now.Sub(prev.Timestamp) > window {
		return false
	}
	return hasMultipleChoiceMarker(newText) || hasMultipleChoiceMarker(prev.Text)
}

// shouldTrigger decides whether a committed (possibly merged) item fires
// answer generation, and whether the question is multiple-choice. A partial
// option list never triggers: once multiple-choice markers appear, generation
// waits for the full A/B/C set.
func shouldTrigger(text string) (trigger, multipleChoice bool) {
	if hasMultipleChoiceMarker(text) {
		return hasAllOptions(text), true
	}
	return looksLikeQuestion(text), false
}
