package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/notebooklm/pkg/rpc"
)

func TestPool_BoundsContexts(t *testing.T) {
	base := newFakeLauncher()
	p := NewPoolWith(base, 2, nil)
	assert.Equal(t, 2, p.Capacity())

	h1, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)
	h2, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Active())

	acquired := make(chan *Handles)
	go func() {
		h, err := p.NewSession(context.Background(), DefaultOptions())
		if err == nil {
			acquired <- h
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third context acquired while pool was full")
	case <-time.After(50 * time.Millisecond):
	}

	h1.Release()
	h1.Release()

	select {
	case h3 := <-acquired:
		h3.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter not served after release")
	}

	h2.Release()
	assert.Equal(t, 0, p.Active())
	_, releases, _ := base.counts()
	assert.Equal(t, 3, releases)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p := NewPoolWith(newFakeLauncher(), 1, nil)
	h, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.NewSession(ctx, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, rpc.ErrTransportFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPool_FIFO(t *testing.T) {
	p := NewPoolWith(newFakeLauncher(), 1, nil)
	h, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			h, err := p.NewSession(context.Background(), DefaultOptions())
			if err != nil {
				return
			}
			order <- i
			h.Release()
		}(i)
		// Stagger arrivals so the queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	h.Release()
	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("waiter starved")
		}
	}
}

func TestPool_LauncherFailureFreesSlot(t *testing.T) {
	base := newFakeLauncher()
	base.err = errors.New("boom")
	p := NewPoolWith(base, 1, nil)

	_, err := p.NewSession(context.Background(), DefaultOptions())
	require.Error(t, err)

	base.mu.Lock()
	base.err = nil
	base.mu.Unlock()
	h, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)
	h.Release()
}

func TestPool_Shutdown(t *testing.T) {
	base := newFakeLauncher()
	p := NewPoolWith(base, 1, nil)
	h, err := p.NewSession(context.Background(), DefaultOptions())
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.NewSession(context.Background(), DefaultOptions())
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown())

	select {
	case err := <-waiterErr:
		assert.True(t, errors.Is(err, ErrPoolShutdown))
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by shutdown")
	}

	_, err = p.NewSession(context.Background(), DefaultOptions())
	assert.True(t, errors.Is(err, ErrPoolShutdown))

	h.Release()
	_, _, closes := base.counts()
	assert.Equal(t, 1, closes)
}

func TestPool_TransportsShareBrowser(t *testing.T) {
	base := newFakeLauncher()
	p := NewPoolWith(base, 2, nil)

	tr := NewTransport(DefaultOptions(), WithLauncher(p))
	require.NoError(t, tr.Open(context.Background(), nil))
	assert.Equal(t, 1, p.Active())

	require.NoError(t, tr.Close())
	assert.Equal(t, 0, p.Active())
	_, _, closes := base.counts()
	assert.Equal(t, 0, closes)
}
