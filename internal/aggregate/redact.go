package aggregate

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// Redact masks email addresses and phone numbers before text is displayed or
// logged. Transcripts of live interviews routinely contain both.
func Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email redacted]")
	text = phonePattern.ReplaceAllString(text, "[phone redacted]")
	return text
}
