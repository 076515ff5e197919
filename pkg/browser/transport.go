package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// defaultAbortGrace bounds how long a cancelled Execute waits for the page to
// settle.
const defaultAbortGrace = 5 * time.Second

const fetchScript = `async (args) => {
	const controller = new AbortController();
	window.__rpcAbort = window.__rpcAbort || {};
	window.__rpcAbort[args.callId] = controller;
	const timeoutId = args.timeoutMs > 0
		? setTimeout(() => controller.abort(), args.timeoutMs)
		: null;

	const options = {
		method: args.method,
		headers: args.headers || {},
		credentials: 'include',
		signal: controller.signal,
	};
	if (args.body) {
		options.body = args.body;
	}

	try {
		const response = await fetch(args.url, options);
		return {
			ok: response.ok,
			status: response.status,
			statusText: response.statusText,
			text: await response.text().catch(() => ''),
		};
	} catch (error) {
		return {
			ok: false,
			status: 0,
			statusText: error && error.name ? error.name : 'FetchError',
			text: '',
		};
	} finally {
		if (timeoutId) {
			clearTimeout(timeoutId);
		}
		delete window.__rpcAbort[args.callId];
	}
}`

const abortScript = `(callId) => {
	const controller = window.__rpcAbort && window.__rpcAbort[callId];
	if (controller) {
		controller.abort();
		return true;
	}
	return false;
}`

// Transport executes requests inside one authenticated page. Execute must
// not be called concurrently; callers serialize access.
type Transport struct {
	launcher     Launcher
	ownsLauncher bool
	opts         Options
	detector     *rpc.AuthDetector
	logger       *logging.Logger
	now          func() time.Time
	abortGrace   time.Duration

	mu        sync.Mutex
	state     State
	handles   *Handles
	csrfToken string
	csrfAt    time.Time
	closeOnce sync.Once
}

// Option configures a Transport.
type Option func(*Transport)

// WithLauncher makes the transport acquire contexts from l. The transport
// does not close a launcher it was given.
func WithLauncher(l Launcher) Option {
	return func(t *Transport) {
		t.launcher = l
		t.ownsLauncher = false
	}
}

// WithAuthDetector overrides the sign-in detection patterns.
func WithAuthDetector(d *rpc.AuthDetector) Option {
	return func(t *Transport) {
		if d != nil {
			t.detector = d
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithClock overrides the time source used for the CSRF cache.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		t.now = now
	}
}

// NewTransport creates an idle transport. Without WithLauncher it starts and
// owns a dedicated Chromium.
func NewTransport(opts Options, options ...Option) *Transport {
	t := &Transport{
		opts:     opts.withDefaults(),
		detector: rpc.DefaultAuthDetector(),
		now:        time.Now,
		abortGrace: defaultAbortGrace,
		state:      StateIdle,
	}
	for _, o := range options {
		o(t)
	}
	if t.launcher == nil {
		t.launcher = NewChromium(t.logger)
		t.ownsLauncher = true
	}
	return t
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Options returns the effective options.
func (t *Transport) Options() Options {
	return t.opts
}

// BaseURL returns the entry page URL.
func (t *Transport) BaseURL() string {
	return t.opts.BaseURL
}

// BatchURL returns the batch-RPC endpoint.
func (t *Transport) BatchURL() string {
	return t.opts.BatchURL()
}

// Open acquires a context, injects cookies, navigates to the entry page and
// extracts the CSRF token. Opening a ready transport is a no-op.
func (t *Transport) Open(ctx context.Context, cookies []playwright.OptionalCookie) error {
	t.mu.Lock()
	switch t.state {
	case StateClosed:
		t.mu.Unlock()
		return rpc.TransportFailure("transport closed", nil)
	case StateReady, StateInCall:
		t.mu.Unlock()
		return nil
	}
	t.state = StateAcquiring
	t.mu.Unlock()

	h, err := t.launcher.NewSession(ctx, t.opts)
	if err != nil {
		t.setState(StateIdle)
		return err
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		t.teardown(h)
		return rpc.TransportFailure("transport closed", nil)
	}
	t.handles = h
	t.mu.Unlock()

	if err := t.load(ctx, h, cookies); err != nil {
		t.reset()
		return err
	}
	t.setState(StateReady)
	return nil
}

// Reload re-injects cookies, navigates to the entry page again and
// re-extracts the CSRF token. An idle transport is opened instead.
func (t *Transport) Reload(ctx context.Context, cookies []playwright.OptionalCookie) error {
	t.mu.Lock()
	state, h := t.state, t.handles
	t.mu.Unlock()

	if state == StateClosed {
		return rpc.TransportFailure("transport closed", nil)
	}
	if h == nil {
		return t.Open(ctx, cookies)
	}

	t.setState(StateAcquiring)
	if err := t.load(ctx, h, cookies); err != nil {
		t.reset()
		return err
	}
	t.setState(StateReady)
	return nil
}

func (t *Transport) load(ctx context.Context, h *Handles, cookies []playwright.OptionalCookie) error {
	if len(cookies) > 0 {
		if err := h.Context.AddCookies(cookies); err != nil {
			return rpc.TransportFailure("failed to inject cookies", err)
		}
	}

	if err := t.navigate(ctx, h.Page); err != nil {
		return err
	}
	if err := t.detector.ClassifyNavigation(h.Page.URL()); err != nil {
		t.logger.Warnf("Navigation landed on sign-in page: %s", h.Page.URL())
		return err
	}

	token, err := extractCSRF(h.Page)
	if err != nil {
		return rpc.TransportFailure("csrf extraction failed", err)
	}
	if token == "" {
		t.logger.Warnf("CSRF token not found on %s; continuing without it", t.opts.BaseURL)
	}
	t.mu.Lock()
	t.csrfToken = token
	t.csrfAt = t.now()
	t.mu.Unlock()
	return nil
}

func (t *Transport) navigate(ctx context.Context, page Page) error {
	if err := ctx.Err(); err != nil {
		return rpc.TransportFailure("navigation cancelled", err)
	}

	timeout := float64(t.opts.Timeout.Milliseconds())
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := float64(time.Until(deadline).Milliseconds()); remaining < timeout {
			timeout = max(remaining, 1)
		}
	}
	waitUntil := playwright.WaitUntilState(t.opts.WaitUntil)

	start := time.Now()
	if _, err := page.Goto(t.opts.BaseURL, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	}); err != nil {
		return rpc.TransportFailure("navigation failed", err)
	}
	t.logger.Timed("navigated to "+t.opts.BaseURL, start)
	return nil
}

// CSRFToken returns the cached token, possibly stale. Empty means absent.
func (t *Transport) CSRFToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.csrfToken
}

// Token returns the CSRF token, re-extracting it from the page when the cache
// has expired.
func (t *Transport) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	state, h := t.state, t.handles
	token, at := t.csrfToken, t.csrfAt
	t.mu.Unlock()

	if state != StateReady || h == nil {
		return "", rpc.TransportFailure("transport not open", nil)
	}
	if token != "" && t.now().Sub(at) < t.opts.CSRFTTL {
		return token, nil
	}
	if err := ctx.Err(); err != nil {
		return "", rpc.TransportFailure("csrf refresh cancelled", err)
	}

	fresh, err := extractCSRF(h.Page)
	if err != nil {
		return "", rpc.TransportFailure("csrf extraction failed", err)
	}
	if fresh == "" {
		// Keep the last known token; the host may still accept it.
		fresh = token
	}
	t.mu.Lock()
	t.csrfToken = fresh
	t.csrfAt = t.now()
	t.mu.Unlock()
	return fresh, nil
}

// Execute runs one fetch inside the page and returns what the browser saw.
// HTTP error statuses are returned as responses, not errors; only failures to
// complete the request become TransportFailure. Every request is bounded by
// req.Timeout, or Options.CallTimeout when unset. A fetch that does not
// settle after being aborted leaves the transport Idle with its page torn
// down, so the next Open starts from a fresh page.
func (t *Transport) Execute(ctx context.Context, req Request) (*rpc.RawResponse, error) {
	t.mu.Lock()
	switch t.state {
	case StateClosed:
		t.mu.Unlock()
		return nil, rpc.TransportFailure("transport closed", nil)
	case StateReady:
	default:
		state := t.state
		t.mu.Unlock()
		return nil, rpc.TransportFailure(fmt.Sprintf("transport not ready (%s)", state), nil)
	}
	t.state = StateInCall
	page := t.handles.Page
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.state == StateInCall {
			t.state = StateReady
		}
		t.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, rpc.TransportFailure("request cancelled", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.opts.CallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callID := uuid.NewString()
	method := req.Method
	if method == "" {
		method = "POST"
	}
	headers := make(map[string]interface{}, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	arg := map[string]interface{}{
		"url":       req.URL,
		"method":    method,
		"body":      req.Body,
		"headers":   headers,
		"callId":    callID,
		"timeoutMs": timeoutMillis(ctx, timeout),
	}

	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := page.Evaluate(fetchScript, arg)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, rpc.TransportFailure("evaluate failed", r.err)
		}
		raw, err := toRawResponse(r.value)
		if err != nil {
			return nil, err
		}
		if raw.StatusCode == 0 {
			if ctx.Err() != nil {
				return nil, interrupted(ctx.Err())
			}
			return nil, rpc.TransportFailure("fetch failed: "+raw.StatusText, nil)
		}
		return raw, nil

	case <-ctx.Done():
		t.logger.Debugf("Aborting in-flight request %s: %v", callID, ctx.Err())
		go func() {
			if _, err := page.Evaluate(abortScript, callID); err != nil {
				t.logger.Debugf("Abort of %s failed: %v", callID, err)
			}
		}()
		select {
		case <-done:
		case <-time.After(t.abortGrace):
			t.logger.Warnf("Request %s did not settle after abort; discarding page", callID)
			t.reset()
		}
		return nil, interrupted(ctx.Err())
	}
}

func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpc.TransportFailure("request timed out", err)
	}
	return rpc.TransportFailure("request cancelled", err)
}

// timeoutMillis picks the in-page abort timer: the explicit timeout, capped by
// the context deadline. Zero disables the timer.
func timeoutMillis(ctx context.Context, explicit time.Duration) int64 {
	ms := explicit.Milliseconds()
	if deadline, ok := ctx.Deadline(); ok {
		remaining := max(time.Until(deadline).Milliseconds(), 1)
		if ms <= 0 || remaining < ms {
			ms = remaining
		}
	}
	return max(ms, 0)
}

func toRawResponse(v interface{}) (*rpc.RawResponse, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, rpc.TransportFailure(fmt.Sprintf("unexpected fetch result %T", v), nil)
	}
	raw := &rpc.RawResponse{}
	raw.OK, _ = m["ok"].(bool)
	raw.StatusCode = toInt(m["status"])
	raw.StatusText, _ = m["statusText"].(string)
	raw.Text, _ = m["text"].(string)
	return raw, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateClosed {
		t.state = s
	}
}

// reset tears down the page and context and returns to Idle so the
// transport can be opened again.
func (t *Transport) reset() {
	t.mu.Lock()
	h := t.handles
	t.handles = nil
	t.csrfToken = ""
	t.csrfAt = time.Time{}
	if t.state != StateClosed {
		t.state = StateIdle
	}
	t.mu.Unlock()
	t.teardown(h)
}

func (t *Transport) teardown(h *Handles) {
	if h == nil {
		return
	}
	if h.Page != nil {
		if err := h.Page.Close(); err != nil {
			t.logger.Debugf("Error closing page: %v", err)
		}
	}
	if h.Context != nil {
		if err := h.Context.Close(); err != nil {
			t.logger.Debugf("Error closing context: %v", err)
		}
	}
	h.Release()
}

// Close releases every resource held by the transport. It is idempotent and
// always returns nil; teardown errors are logged.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		h := t.handles
		t.handles = nil
		t.state = StateClosed
		t.csrfToken = ""
		t.csrfAt = time.Time{}
		t.mu.Unlock()

		t.teardown(h)
		if t.ownsLauncher {
			if err := t.launcher.Close(); err != nil {
				t.logger.Warnf("Error stopping browser: %v", err)
			}
		}
	})
	return nil
}
