package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds how often a failing operation is re-run.
type Policy struct {
	Retries int
	Backoff time.Duration
}

// Once retries a single time after backoff.
func Once(backoff time.Duration) Policy {
	return Policy{Retries: 1, Backoff: backoff}
}

// Do runs op and re-runs it up to p.Retries more times, sleeping p.Backoff
// between attempts. The sleep blocks the caller.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	attempts := p.Retries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry interrupted after %d attempt(s): %w", i, err)
			case <-timer.C:
			}
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempt(s): %w", attempts, err)
}
