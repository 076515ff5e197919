// Package session owns one authenticated browser transport and exposes
// retried, classified RPC calls over it.
//
// Calls on a Session are served strictly in arrival order; a call never
// starts while another is in flight. Concurrency comes from running several
// Sessions, typically over a shared browser.Pool.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/notebooklm/pkg/auth"
	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
	"github.com/entrhq/notebooklm/pkg/telemetry"
)

// Transport executes requests inside an authenticated page.
// *browser.Transport implements it.
type Transport interface {
	Open(ctx context.Context, cookies []playwright.OptionalCookie) error
	Reload(ctx context.Context, cookies []playwright.OptionalCookie) error
	Token(ctx context.Context) (string, error)
	CSRFToken() string
	BaseURL() string
	BatchURL() string
	Execute(ctx context.Context, req browser.Request) (*rpc.RawResponse, error)
	Close() error
}

// Credentials supplies and refreshes the cookies the transport runs with.
// *auth.FileStore implements it.
type Credentials interface {
	Cookies() ([]auth.Cookie, error)
	IsValid() bool
	Refresh(ctx context.Context) error
}

// Stats counts what a Session has done.
type Stats struct {
	Calls     int
	Failures  int
	Retries   int
	Refreshes int
}

// Session runs RPC calls over one transport.
type Session struct {
	transport        Transport
	creds            Credentials
	policy           rpc.Policy
	detector         *rpc.AuthDetector
	metrics          *telemetry.Metrics
	logger           *logging.Logger
	sleep            func(ctx context.Context, d time.Duration) error
	autoRefresh      bool
	streamingTimeout time.Duration

	// turn is a FIFO ticket lock: blocked senders are admitted in order.
	turn chan struct{}

	mu        sync.Mutex
	closed    bool
	stats     Stats
	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithPolicy sets the retry policy.
func WithPolicy(p rpc.Policy) Option {
	return func(s *Session) { s.policy = p }
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithAuthDetector overrides sign-in page detection for response bodies.
func WithAuthDetector(d *rpc.AuthDetector) Option {
	return func(s *Session) {
		if d != nil {
			s.detector = d
		}
	}
}

// WithSleep replaces the backoff sleep. The function must return ctx.Err()
// when ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithAutoRefresh controls the single credential refresh on expired
// authentication. It is on by default.
func WithAutoRefresh(enabled bool) Option {
	return func(s *Session) { s.autoRefresh = enabled }
}

// WithStreamingTimeout bounds raw calls made without a context deadline.
func WithStreamingTimeout(d time.Duration) Option {
	return func(s *Session) { s.streamingTimeout = d }
}

// New creates a session. The transport is opened lazily by the first call.
func New(transport Transport, creds Credentials, opts ...Option) *Session {
	s := &Session{
		transport:        transport,
		creds:            creds,
		policy:           rpc.DefaultPolicy(),
		detector:         rpc.DefaultAuthDetector(),
		sleep:            sleepContext,
		autoRefresh:      true,
		streamingTimeout: browser.DefaultStreamingTimeout,
		turn:             make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens the transport ahead of the first call, surfacing credential or
// navigation problems early.
func (s *Session) Open(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.ensureOpen(ctx)
}

// CallRPC encodes and executes one RPC and returns the decoded payload.
// Rate limiting and server errors are retried with backoff; expired
// authentication triggers one credential refresh and one more attempt.
func (s *Session) CallRPC(ctx context.Context, rpcID string, params []any) (any, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	return s.withRetry(ctx, rpcID, func(ctx context.Context) (any, error) {
		return s.callOnce(ctx, rpcID, params)
	})
}

func (s *Session) callOnce(ctx context.Context, rpcID string, params []any) (any, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	token, err := s.transport.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := rpc.Encode(rpcID, params, token)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", rpcID, err)
	}
	if logging.DebugPayloads() {
		s.logger.Debugf("RPC payload %s: %s", rpcID, logging.Redact(body))
	}

	raw, err := s.transport.Execute(ctx, browser.BatchRequest(s.transport.BatchURL(), body))
	if err != nil {
		return nil, err
	}
	if logging.DebugPayloads() {
		s.logger.Debugf("RPC response %s (%d): %s", rpcID, raw.StatusCode, logging.Redact(raw.Text))
	}
	return rpc.DecodeWith(raw, s.detector)
}

// ready checks the credentials and makes sure the transport is open.
func (s *Session) ready(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return rpc.TransportFailure("session closed", nil)
	}
	if !s.creds.IsValid() {
		return rpc.AuthExpired("credentials expired or missing required cookies")
	}
	return s.ensureOpen(ctx)
}

func (s *Session) ensureOpen(ctx context.Context) error {
	cookies, err := s.creds.Cookies()
	if err != nil {
		return err
	}
	return s.transport.Open(ctx, auth.PlaywrightCookies(cookies))
}

// refresh renews the credentials and reloads the page with them.
func (s *Session) refresh(ctx context.Context) error {
	s.logger.Infof("Authentication expired; refreshing credentials")
	s.metrics.ObserveRefresh()
	s.count(func(st *Stats) { st.Refreshes++ })

	if err := s.creds.Refresh(ctx); err != nil {
		return err
	}
	cookies, err := s.creds.Cookies()
	if err != nil {
		return err
	}
	return s.transport.Reload(ctx, auth.PlaywrightCookies(cookies))
}

// CSRFToken returns the transport's cached CSRF token. Empty means absent.
func (s *Session) CSRFToken() string {
	return s.transport.CSRFToken()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// Close releases the transport. It is idempotent; later calls fail with
// TransportFailure.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := s.transport.Close(); err != nil {
			s.logger.Warnf("Error closing transport: %v", err)
		}
	})
	return nil
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.turn
}
