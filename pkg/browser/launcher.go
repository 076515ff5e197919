package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// Launcher produces isolated browser contexts for transports.
type Launcher interface {
	// NewSession creates a fresh context and page. The caller must Release
	// the returned handles after closing the page and context.
	NewSession(ctx context.Context, opts Options) (*Handles, error)

	// Close stops whatever the launcher started.
	Close() error
}

// Chromium launches a Playwright driver and one Chromium browser on first use
// and creates contexts on it.
type Chromium struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	browser     playwright.Browser
	headless    bool
	install     bool
	initialized bool
	logger      *logging.Logger
}

// NewChromium creates a launcher that installs the Playwright driver and
// browsers if they are missing.
func NewChromium(logger *logging.Logger) *Chromium {
	return &Chromium{install: true, logger: logger}
}

// SkipInstall disables the driver install step (for environments where the
// browsers are provisioned ahead of time).
func (c *Chromium) SkipInstall() *Chromium {
	c.install = false
	return c
}

func (c *Chromium) start(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if c.install {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := opts.Headless
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     LaunchArgs,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	c.playwright = pw
	c.browser = b
	c.headless = headless
	c.initialized = true
	c.logger.Debugf("Chromium started (headless=%t)", headless)
	return nil
}

// NewSession implements Launcher.
func (c *Chromium) NewSession(ctx context.Context, opts Options) (*Handles, error) {
	opts = opts.withDefaults()
	if err := ctx.Err(); err != nil {
		return nil, rpc.TransportFailure("browser acquisition cancelled", err)
	}
	if err := c.start(opts); err != nil {
		return nil, rpc.TransportFailure("browser start failed", err)
	}

	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return nil, rpc.TransportFailure("browser closed", nil)
	}

	userAgent := opts.UserAgent
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
		UserAgent: &userAgent,
	})
	if err != nil {
		return nil, rpc.TransportFailure("failed to create context", err)
	}

	if opts.BlockResources {
		if err := blockResources(bctx); err != nil {
			_ = bctx.Close()
			return nil, rpc.TransportFailure("failed to install resource blocking", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, rpc.TransportFailure("failed to create page", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return NewHandles(page, bctx, nil), nil
}

// blockResources aborts requests for resource types the transport never needs.
func blockResources(bctx playwright.BrowserContext) error {
	return bctx.Route("**/*", func(route playwright.Route) {
		if BlockedResourceTypes[route.Request().ResourceType()] {
			_ = route.Abort()
			return
		}
		_ = route.Continue()
	})
}

// Close stops the browser and the Playwright driver.
func (c *Chromium) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			c.logger.Warnf("Error closing browser: %v", err)
		}
		c.browser = nil
	}

	c.initialized = false
	if c.playwright != nil {
		pw := c.playwright
		c.playwright = nil
		if err := pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
	}
	return nil
}
