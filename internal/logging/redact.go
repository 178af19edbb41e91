package logging

import "regexp"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`\b(?:sk|ek|rk)[-_][A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{20,}`),
	regexp.MustCompile(`(?i)("(?:value|token|client_secret|api_key|apikey|secret)"\s*:\s*")[^"]*(")`),
}

const redacted = "[REDACTED]"

// Redact masks anything shaped like an upstream credential.
func Redact(input string) (out string, changed bool) {
	out = input
	for i, p := range secretPatterns {
		var next string
		if i == len(secretPatterns)-1 {
			next = p.ReplaceAllString(out, "${1}"+redacted+"${2}")
		} else {
			next = p.ReplaceAllString(out, redacted)
		}
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactString is Redact without the changed flag.
func RedactString(s string) string {
	out, _ := Redact(s)
	return out
}
