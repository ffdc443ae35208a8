package policy

import "regexp"

// Learner transcripts are persisted for context recall, so high-risk
// identifiers are masked before any turn reaches the store.
type redactRule struct {
	pattern *regexp.Regexp
	mask    string
}

// Card runs before phone so card numbers are not classified as phone.
var redactRules = []redactRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactTranscript masks common high-risk PII patterns in a transcript.
func RedactTranscript(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactRules {
		next := rule.pattern.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
