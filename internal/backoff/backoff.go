// Package backoff provides the capped exponential backoff policy shared by
// the request gateway and the realtime session manager.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/npratt/dashlink/internal/config"
)

// Policy is a capped exponential backoff schedule.
// It is a value type and never mutated after construction.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// FromConfig builds a Policy from a retry config section.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
	}
}

// Validate reports whether the policy can be used.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("max delay must be positive")
	}
	return nil
}

// Delay returns min(BaseDelay * 2^n, MaxDelay).
// Negative n is treated as 0.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
