package answer

import (
	"fmt"
	"regexp"
	"strings"
)

// Multiple-choice replies carry per-option sections and usually a
// recommendation. Markers vary ("Option A:", "OPTION A:", "A)", "A."), so
// extraction scans for the first marker of the requested letter and bounds
// the text at the next option marker or the recommendation section.

var (
	anyOptionMarker       = regexp.MustCompile(`(?i)\boption\s+[abc]\s*[:.)]|(?m)^\s*[ABC][:.)]\s`)
	recommendationSection = regexp.MustCompile(`(?i)\brecommendation\s*:`)

	recommendationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brecommendation\s*:\s*(.+)`),
		regexp.MustCompile(`(?i)i\s+(?:would\s+)?recommend\s+(?:option\s+)?([abc])\b`),
		regexp.MustCompile(`(?i)\boption\s+([abc])\s+is\s+(?:the\s+)?(?:best|correct|right)\b`),
		regexp.MustCompile(`(?i)\b([abc])\s+is\s+the\s+best\s+choice\b`),
		regexp.MustCompile(`(?i)the\s+(?:best|correct)\s+answer\s+is\s+(?:option\s+)?([abc])\b`),
	}
)

func optionMarker(letter string) *regexp.Regexp {
	letter = strings.ToLower(letter)
	return regexp.MustCompile(fmt.Sprintf(`(?i)\boption\s+%s\s*[:.)]|(?m)^\s*%s[:.)]\s`, letter, strings.ToUpper(letter)))
}

// ExtractOption returns the text of one option (letter "a", "b", or "c")
// from a reply, or "" when the option is absent. Absent options are simply
// not displayed.
func ExtractOption(text, letter string) string {
	marker := optionMarker(letter)
	loc := marker.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]

	end := len(rest)
	if next := anyOptionMarker.FindStringIndex(rest); next != nil && next[0] < end {
		end = next[0]
	}
	if rec := recommendationSection.FindStringIndex(rest); rec != nil && rec[0] < end {
		end = rec[0]
	}
	return strings.TrimSpace(rest[:end])
}

// ExtractRecommendation finds the model's recommended option or free-text
// recommendation. Returns "" when no phrasing matches.
func ExtractRecommendation(text string) string {
	for _, re := range recommendationPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
