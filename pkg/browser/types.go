package browser

import (
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Host endpoints.
const (
	// DefaultBaseURL is the application entry page. Navigating here loads the
	// session cookies into the page origin and exposes the CSRF token.
	DefaultBaseURL = "https://notebooklm.google.com"

	// BatchExecutePath is the batch-RPC endpoint, relative to the base URL.
	BatchExecutePath = "/_/LabsTailwindUi/data/batchexecute"

	// FormContentType is sent with every batch-RPC request.
	FormContentType = "application/x-www-form-urlencoded;charset=UTF-8"
)

// Default values for browser sessions
const (
	DefaultTimeout          = 30 * time.Second
	DefaultCallTimeout      = 60 * time.Second
	DefaultStreamingTimeout = 120 * time.Second
	DefaultCSRFTTL          = 5 * time.Minute
	DefaultViewportWidth    = 1280
	DefaultViewportHeight   = 800
	DefaultMaxContexts      = 4
	DefaultWaitUntil        = "domcontentloaded"
	DefaultUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// LaunchArgs are passed to Chromium on start.
var LaunchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-gpu",
}

// BlockedResourceTypes are aborted when resource blocking is enabled. The
// transport only needs the document and its scripts.
var BlockedResourceTypes = map[string]bool{
	"image":      true,
	"media":      true,
	"font":       true,
	"stylesheet": true,
}

// Options configures a browser session.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// UserAgent overrides the context's user agent
	UserAgent string

	// Timeout is the default timeout for page operations
	Timeout time.Duration

	// CallTimeout bounds every in-page request that sets no timeout of its own
	CallTimeout time.Duration

	// StreamingTimeout bounds raw calls that have no context deadline
	StreamingTimeout time.Duration

	// BlockResources aborts image, media, font and stylesheet requests
	BlockResources bool

	// WaitUntil specifies when navigation is considered done
	// Valid values: "load", "domcontentloaded", "networkidle", "commit"
	WaitUntil string

	// CSRFTTL is how long an extracted CSRF token is trusted
	CSRFTTL time.Duration

	// BaseURL is the entry page; empty means DefaultBaseURL
	BaseURL string
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// DefaultOptions returns headless options with all defaults applied.
func DefaultOptions() Options {
	return Options{Headless: true}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.StreamingTimeout <= 0 {
		o.StreamingTimeout = DefaultStreamingTimeout
	}
	if o.WaitUntil == "" {
		o.WaitUntil = DefaultWaitUntil
	}
	if o.CSRFTTL <= 0 {
		o.CSRFTTL = DefaultCSRFTTL
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	return o
}

// BatchURL returns the batch-RPC endpoint for these options.
func (o Options) BatchURL() string {
	base := o.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return base + BatchExecutePath
}

// Request is one HTTP request issued from inside the page.
type Request struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string

	// Timeout bounds the request. Zero means Options.CallTimeout. A shorter
	// context deadline always wins.
	Timeout time.Duration
}

// BatchRequest builds the POST for an encoded batch-RPC body.
func BatchRequest(url, body string) Request {
	return Request{
		URL:     url,
		Method:  "POST",
		Body:    body,
		Headers: map[string]string{"Content-Type": FormContentType},
	}
}

// State is the lifecycle state of a Transport.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateReady
	StateInCall
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateReady:
		return "ready"
	case StateInCall:
		return "in_call"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Page is the subset of playwright.Page the transport uses.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	URL() string
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	Content() (string, error)
	SetDefaultTimeout(timeout float64)
	Close(options ...playwright.PageCloseOptions) error
}

// Context is the subset of playwright.BrowserContext the transport uses.
type Context interface {
	AddCookies(cookies []playwright.OptionalCookie) error
	Close(options ...playwright.BrowserContextCloseOptions) error
}

// Handles are the resources backing one transport. Release returns them to
// the launcher that produced them.
type Handles struct {
	Page    Page
	Context Context

	release     func()
	releaseOnce sync.Once
}

// NewHandles wraps a page and context with a release hook.
func NewHandles(page Page, ctx Context, release func()) *Handles {
	return &Handles{Page: page, Context: ctx, release: release}
}

// Release gives the handles back to their launcher. Safe to call multiple times.
func (h *Handles) Release() {
	if h == nil {
		return
	}
	h.releaseOnce.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
