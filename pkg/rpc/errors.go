package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/entrhq/notebooklm/pkg/logging"
)

// Kind identifies the class of a transport failure.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	KindRateLimited
	KindServerError
	KindClientError
	KindAuthExpired
	KindMalformedResponse
	KindTransportFailure
)

// DefaultRetryAfter is the wait suggested for rate-limited calls. The host
// does not send a usable hint.
const DefaultRetryAfter = 60 * time.Second

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindAuthExpired:
		return "auth_expired"
	case KindMalformedResponse:
		return "malformed_response"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind Kind

	// StatusCode and StatusText are set for HTTP-level failures.
	StatusCode int
	StatusText string

	// RetryAfter is the suggested wait for rate-limited calls.
	RetryAfter time.Duration

	// Detail describes what went wrong.
	Detail string

	// Body holds a truncated, redacted copy of the offending response text.
	Body string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. Matching compares the kind only.
var (
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrServerError       = &Error{Kind: KindServerError}
	ErrClientError       = &Error{Kind: KindClientError}
	ErrAuthExpired       = &Error{Kind: KindAuthExpired}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrTransportFailure  = &Error{Kind: KindTransportFailure}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.StatusText != "" {
			fmt.Fprintf(&b, " %s", e.StatusText)
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		fmt.Fprintf(&b, ", retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " (snippet: %q)", e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServerError
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	return KindUnknown
}

// RateLimited builds a rate-limit error. A non-positive retryAfter falls back
// to DefaultRetryAfter.
func RateLimited(retryAfter time.Duration) *Error {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &Error{
		Kind:       KindRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Detail:     "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// ClassifyStatus maps a failed HTTP status to an error. 429 is rate limiting,
// 5xx a server error, 4xx a client error. Anything else (including the zero
// status a failed or aborted fetch reports) is a transport failure.
func ClassifyStatus(status int, statusText, body string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(0)
	case status >= 500 && status < 600:
		return &Error{Kind: KindServerError, StatusCode: status, StatusText: statusText, Detail: "server error", Body: Snippet(body)}
	case status >= 400 && status < 500:
		return &Error{Kind: KindClientError, StatusCode: status, StatusText: statusText, Detail: "request rejected", Body: Snippet(body)}
	default:
		detail := "request failed"
		if statusText != "" {
			detail = statusText
		}
		return &Error{Kind: KindTransportFailure, StatusCode: status, Detail: detail, Body: Snippet(body)}
	}
}

// AuthExpired builds an authentication error.
func AuthExpired(detail string) *Error {
	return &Error{Kind: KindAuthExpired, Detail: detail}
}

// Malformed builds a decode error that keeps a truncated copy of text.
func Malformed(detail, text string) *Error {
	return &Error{Kind: KindMalformedResponse, Detail: detail, Body: Snippet(text)}
}

// TransportFailure wraps an execution error raised by the browser.
func TransportFailure(detail string, err error) *Error {
	return &Error{Kind: KindTransportFailure, Detail: detail, Err: err}
}

// Snippet truncates and redacts text for inclusion in an error.
func Snippet(text string) string {
	if len(text) > maxSnippet {
		text = text[:maxSnippet]
	}
	return logging.Redact(text)
}
