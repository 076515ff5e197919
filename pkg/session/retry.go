package session

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/notebooklm/pkg/rpc"
)

// withRetry runs attempt until it succeeds, the policy gives up, or the error
// is not retryable. An AuthExpired failure gets one refresh and one extra
// attempt that does not count against the retry budget.
func (s *Session) withRetry(ctx context.Context, name string, attempt func(context.Context) (any, error)) (any, error) {
	attempts := 0
	refreshed := false

	for {
		attempts++
		start := time.Now()
		v, err := attempt(ctx)
		s.metrics.ObserveCall(name, time.Since(start), err)
		s.count(func(st *Stats) {
			st.Calls++
			if err != nil {
				st.Failures++
			}
		})
		if err == nil {
			return v, nil
		}

		if rpc.KindOf(err) == rpc.KindAuthExpired && s.autoRefresh && !refreshed {
			refreshed = true
			attempts--
			if rerr := s.refresh(ctx); rerr != nil {
				s.logger.Warnf("Credential refresh failed for %s: %v", name, rerr)
				return nil, rerr
			}
			continue
		}

		if !s.policy.ShouldRetry(err, attempts) {
			if attempts > 1 {
				s.logger.Errorf("%s failed after %d attempts: %v", name, attempts, err)
			}
			return nil, err
		}

		delay := s.policy.DelayFor(attempts - 1)
		s.logger.Warnf("%s attempt %d/%d failed: %v. Retrying in %s",
			name, attempts, s.policy.Attempts(), err, delay.Round(time.Millisecond))
		s.metrics.ObserveRetry(err)
		s.count(func(st *Stats) { st.Retries++ })

		if serr := s.sleep(ctx, delay); serr != nil {
			return nil, fmt.Errorf("retry of %s cancelled: %w (last error: %w)", name, serr, err)
		}
	}
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
