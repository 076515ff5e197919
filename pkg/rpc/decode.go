package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Decode turns a raw response into the application payload or a classified
// error. It never panics on malformed input.
func Decode(raw *RawResponse) (any, error) {
	return decode(raw, defaultDetector)
}

// DecodeWith is Decode using a custom auth detector.
func DecodeWith(raw *RawResponse, detector *AuthDetector) (any, error) {
	if detector == nil {
		detector = defaultDetector
	}
	return decode(raw, detector)
}

func decode(raw *RawResponse, detector *AuthDetector) (any, error) {
	if raw == nil {
		return nil, Malformed("no response", "")
	}

	// Rate limiting wins over everything else, including the body.
	if raw.StatusCode == http.StatusTooManyRequests {
		return nil, RateLimited(0)
	}
	if !raw.OK {
		return nil, ClassifyStatus(raw.StatusCode, raw.StatusText, raw.Text)
	}

	text := raw.Text
	if detector.MatchBody(text) {
		return nil, AuthExpired("response is the sign-in page; authentication expired during call")
	}
	text = strings.TrimPrefix(text, AntiXSSIPrefix)

	line, err := dataLine(text)
	if err != nil {
		return nil, err
	}
	return unwrap(line)
}

// dataLine selects the JSON line, skipping an optional leading byte count.
func dataLine(text string) (string, error) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", Malformed("empty body", text)
	}
	if isDigits(lines[0]) && len(lines) > 1 {
		return lines[1], nil
	}
	return lines[0], nil
}

// unwrap parses the data line and extracts the payload at [0][2].
func unwrap(line string) (any, error) {
	var outer any
	if err := json.Unmarshal([]byte(line), &outer); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Detail: "envelope is not valid JSON", Body: Snippet(line), Err: err}
	}

	list, ok := outer.([]any)
	if !ok {
		return nil, Malformed(fmt.Sprintf("envelope is %s, want array", jsonType(outer)), line)
	}
	if len(list) == 0 {
		return nil, Malformed("envelope is an empty array", line)
	}

	inner, ok := list[0].([]any)
	if !ok {
		return nil, Malformed(fmt.Sprintf("envelope entry is %s, want array", jsonType(list[0])), line)
	}
	if len(inner) <= 2 {
		return nil, Malformed(fmt.Sprintf("envelope entry has %d elements, want more than 2", len(inner)), line)
	}

	encoded, ok := inner[2].(string)
	if !ok {
		return inner[2], nil
	}

	var payload any
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Detail: "payload string is not valid JSON", Body: Snippet(encoded), Err: err}
	}
	return payload, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
