package answer

import (
	"regexp"
	"strings"
)

// The model is prompted to reply as "QUESTION: ... ANSWER: ...". Extraction
// is permissive and degrades gracefully: structured parse, then an
// interrogative scan of the source text, then a generic label.

var (
	questionSection = regexp.MustCompile(`(?is)QUESTION:\s*(.*?)\s*ANSWER:`)
	answerSection   = regexp.MustCompile(`(?is)ANSWER:\s*(.*)$`)

	// interrogativeScan finds a question-looking substring in raw transcript
	// text when the model ignored the reply format.
	interrogativeScan = regexp.MustCompile(`(?i)\b(what|how|why|when|where|who|which|whose|can you|could you|tell me|explain|describe)\b[^?]*\?`)

	// Boilerplate the model is known to leak into replies.
	denylist = []*regexp.Regexp{
		regexp.MustCompile(`(?i)also helping you to save money by using resources in a frugal and responsible manner`),
		regexp.MustCompile(`(?i)that is a crac?\.{3}`),
	}
)

const fallbackQuestionLabel = "Latest interview question"

// ExtractQA pulls the question and answer out of a raw model reply. source
// is the original transcript text used for the interrogative fallback.
func ExtractQA(raw, source string) (question, answer string) {
	if m := questionSection.FindStringSubmatch(raw); m != nil {
		question = strings.TrimSpace(m[1])
	}
	if m := answerSection.FindStringSubmatch(raw); m != nil {
		answer = strings.TrimSpace(m[1])
	}
	if question != "" && answer != "" {
		return stripBoilerplate(question), stripBoilerplate(answer)
	}

	// Structured parse failed: scan the source for something interrogative
	// and treat the whole reply as the answer.
	if m := interrogativeScan.FindString(source); m != "" {
		question = strings.TrimSpace(m)
	} else {
		question = fallbackQuestionLabel
	}
	return stripBoilerplate(question), stripBoilerplate(strings.TrimSpace(raw))
}

func stripBoilerplate(text string) string {
	for _, re := range denylist {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
