package rpc

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultBackoffBase = 2.0
)

// Policy decides whether a failed attempt is repeated and how long to wait
// before repeating it.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps every computed wait.
	MaxDelay time.Duration

	// Base is the exponential growth factor.
	Base float64

	// Jitter scales each wait by a uniform factor in [0.5, 1.0].
	Jitter bool

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the documented defaults: 3 attempts, 1s base delay,
// 60s cap, base 2, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Base:        DefaultBackoffBase,
		Jitter:      true,
	}
}

// ShouldRetry reports whether err warrants another attempt, given that attempt
// attempts have already been made. Only rate limiting and server errors are
// retried; auth, client, decode and transport failures surface immediately.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts() {
		return false
	}
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Retryable()
}

// DelayFor returns the wait before the retry that follows failed attempt n
// (0-indexed): min(MaxDelay, BaseDelay * Base^n), jittered when enabled.
func (p Policy) DelayFor(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	maxDelay := float64(p.MaxDelay)
	if p.MaxDelay <= 0 {
		maxDelay = float64(DefaultMaxDelay)
	}

	delay := float64(p.BaseDelay) * math.Pow(base, float64(n))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	if p.Jitter {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		delay *= 0.5 + r()/2
	}
	return time.Duration(delay)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Attempts returns the effective maximum number of attempts.
func (p Policy) Attempts() int {
	return p.maxAttempts()
}
