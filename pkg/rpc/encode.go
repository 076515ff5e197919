package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serializes an RPC call into the form body accepted by batchexecute.
// The CSRF token is appended as the "at" field when non-empty.
func Encode(rpcID string, params []any, csrfToken string) (string, error) {
	if rpcID == "" {
		return "", fmt.Errorf("rpc id is required")
	}
	if params == nil {
		params = []any{}
	}

	jsonParams, err := marshalCompact(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params for %s: %w", rpcID, err)
	}

	envelope := []any{[]any{[]any{rpcID, string(jsonParams), nil, envelopeMarker}}}
	full, err := marshalCompact(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope for %s: %w", rpcID, err)
	}

	var b strings.Builder
	b.WriteString(FieldRequest)
	b.WriteByte('=')
	b.WriteString(quote(string(full)))
	if csrfToken != "" {
		b.WriteByte('&')
		b.WriteString(FieldToken)
		b.WriteByte('=')
		b.WriteString(quote(csrfToken))
	}
	return b.String(), nil
}

// marshalCompact encodes v without HTML escaping so that <, > and & reach the
// host exactly as the browser client sends them.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

const upperhex = "0123456789ABCDEF"

// quote percent-encodes s leaving only unreserved characters and '/' intact.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3 / 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '~', '/':
		return true
	}
	return false
}
