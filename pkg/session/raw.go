package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// rawCallName labels raw calls in logs and metrics. URLs are not used as
// labels since they are unbounded.
const rawCallName = "raw"

// CallRaw executes an arbitrary request inside the authenticated page and
// returns the body text without envelope decoding. It follows the same
// auth refresh and retry rules as CallRPC. Relative URLs are resolved
// against the entry page.
func (s *Session) CallRaw(ctx context.Context, req browser.Request) (string, error) {
	if req.URL == "" {
		return "", errors.New("request URL is required")
	}
	if strings.HasPrefix(req.URL, "/") {
		req.URL = s.transport.BaseURL() + req.URL
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if _, ok := ctx.Deadline(); !ok && req.Timeout <= 0 {
		req.Timeout = s.streamingTimeout
	}

	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	v, err := s.withRetry(ctx, rawCallName, func(ctx context.Context) (any, error) {
		return s.rawOnce(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) rawOnce(ctx context.Context, req browser.Request) (any, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if logging.DebugPayloads() {
		s.logger.Debugf("Raw request %s %s headers=%v body=%s",
			req.Method, req.URL, logging.RedactHeaders(req.Headers), logging.Redact(req.Body))
	}

	raw, err := s.transport.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if logging.DebugPayloads() {
		s.logger.Debugf("Raw response %s (%d): %s", req.URL, raw.StatusCode, logging.Redact(raw.Text))
	}

	switch {
	case raw.StatusCode == http.StatusTooManyRequests:
		return nil, rpc.RateLimited(0)
	case !raw.OK:
		return nil, rpc.ClassifyStatus(raw.StatusCode, raw.StatusText, raw.Text)
	case s.detector.MatchBody(raw.Text):
		return nil, rpc.AuthExpired("response is the sign-in page; authentication expired during call")
	}
	return raw.Text, nil
}

// StreamRaw is CallRaw followed by rpc.DecodeStream. It returns the decoded
// chunks and how many malformed chunks were dropped.
func (s *Session) StreamRaw(ctx context.Context, req browser.Request) ([]any, int, error) {
	text, err := s.CallRaw(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	chunks, dropped := rpc.DecodeStream(text)
	if dropped > 0 {
		s.logger.Debugf("Dropped %d malformed chunks from %s", dropped, req.URL)
	}
	return chunks, dropped, nil
}
