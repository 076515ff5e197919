package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// ErrPoolShutdown is returned when acquiring from a pool after Shutdown.
var ErrPoolShutdown = errors.New("browser pool shut down")

// Pool shares one browser between many transports and bounds the number of
// live contexts. Waiters are served in arrival order.
type Pool struct {
	base   Launcher
	slots  chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *logging.Logger

	mu     sync.Mutex
	active int
}

// NewPool creates a pool over a shared Chromium allowing at most maxContexts
// live contexts.
func NewPool(maxContexts int, logger *logging.Logger) *Pool {
	return NewPoolWith(NewChromium(logger), maxContexts, logger)
}

// NewPoolWith creates a pool over an arbitrary launcher.
func NewPoolWith(base Launcher, maxContexts int, logger *logging.Logger) *Pool {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	return &Pool{
		base:   base,
		slots:  make(chan struct{}, maxContexts),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// NewSession waits for a free slot, then creates a context on the shared
// browser. The slot is returned when the handles are released.
func (p *Pool) NewSession(ctx context.Context, opts Options) (*Handles, error) {
	select {
	case <-p.done:
		return nil, rpc.TransportFailure("acquire failed", ErrPoolShutdown)
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, rpc.TransportFailure("waiting for a browser context", ctx.Err())
	case <-p.done:
		return nil, rpc.TransportFailure("acquire failed", ErrPoolShutdown)
	}

	h, err := p.base.NewSession(ctx, opts)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	inner := h
	return NewHandles(h.Page, h.Context, func() {
		inner.Release()
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		<-p.slots
	}), nil
}

// Active returns the number of contexts currently handed out.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Capacity returns the maximum number of live contexts.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// Close is a no-op: transports built on a pool must not stop the shared
// browser. Use Shutdown.
func (p *Pool) Close() error {
	return nil
}

// Shutdown wakes all waiters with ErrPoolShutdown and stops the shared browser.
func (p *Pool) Shutdown() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if active := p.Active(); active > 0 {
			p.logger.Warnf("Shutting down browser pool with %d active contexts", active)
		}
		err = p.base.Close()
	})
	return err
}
