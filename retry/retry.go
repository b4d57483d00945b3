// Package retry holds the backoff policy shared by the transport and the
// mailbox reconnect loop.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy bounds a retried operation. It is treated as immutable per call.
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	JitterMax   time.Duration
}

// DefaultPolicy mirrors the watcher defaults.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     20 * time.Second,
		MaxAttempts: 4,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  8 * time.Second,
		JitterMax:   250 * time.Millisecond,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("backoff base cannot be negative")
	}
	if p.BackoffCap < p.BackoffBase {
		return fmt.Errorf("backoff cap (%s) cannot be below backoff base (%s)", p.BackoffCap, p.BackoffBase)
	}
	if p.JitterMax < 0 {
		return fmt.Errorf("jitter cannot be negative")
	}
	return nil
}

// Delay returns min(cap, base*2^(attempt-1)) for a 1-based attempt, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if p.BackoffBase <= 0 {
		return 0
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.BackoffCap > 0 && delay >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if p.BackoffCap > 0 && delay > p.BackoffCap {
		delay = p.BackoffCap
	}
	return delay
}

// Jitter returns a uniformly random duration in [0, JitterMax).
func (p Policy) Jitter() time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.JitterMax)))
}

// Backoff is Delay plus Jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.Delay(attempt) + p.Jitter()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
