package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// DecodeStream splits a chunked (streaming) response into its JSON chunks.
//
// Lines are buffered until they form a complete JSON value, so chunks that the
// host breaks across lines are reassembled. Byte-count lines are skipped and
// malformed chunks are dropped. The second return value counts dropped chunks,
// including an incomplete trailing one.
func DecodeStream(text string) ([]any, int) {
	if text == "" {
		return nil, 0
	}
	text = strings.TrimPrefix(text, AntiXSSIPrefix[:4])

	var (
		chunks  []any
		dropped int
		buffer  strings.Builder
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (buffer.Len() == 0 && isDigits(line)) {
			continue
		}
		buffer.WriteString(line)

		v, err := parseComplete(buffer.String())
		switch {
		case err == nil:
			chunks = append(chunks, v)
			buffer.Reset()
		case errors.Is(err, io.ErrUnexpectedEOF):
			// Incomplete chunk; keep buffering.
		default:
			dropped++
			buffer.Reset()
		}
	}
	if buffer.Len() > 0 {
		dropped++
	}
	return chunks, dropped
}

// parseComplete decodes exactly one JSON value from s. It returns
// io.ErrUnexpectedEOF when s is a truncated value.
func parseComplete(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}
