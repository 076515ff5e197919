package logging

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// redactionPattern is a compiled rule applied by Redact.
type redactionPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

var redactionPatterns = []redactionPattern{
	{
		name:        "csrf-token",
		regex:       regexp.MustCompile(`(^|[&?\s])(at=)[^&\s]+`),
		replacement: "${1}${2}" + redacted,
	},
	{
		name:        "session-cookie",
		regex:       regexp.MustCompile(`(?i)\b(sid|hsid|ssid|apisid|sapisid)=([^;\s&]+)`),
		replacement: "${1}=" + redacted,
	},
	{
		name:        "snlm0e",
		regex:       regexp.MustCompile(`(SNlM0e":")[^"]+`),
		replacement: "${1}" + redacted,
	},
}

// Redact scrubs CSRF tokens and session cookie values from text before it is
// logged or attached to an error.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, p := range redactionPatterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}

// RedactHeaders returns a copy of headers with credential-bearing values hidden.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "cookie", "authorization":
			out[k] = redacted
		default:
			out[k] = v
		}
	}
	return out
}
