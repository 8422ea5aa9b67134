// Package backoff provides the reconnect delay policy for the chat
// connection: a linear ramp with a hard attempt cap.
package backoff

import (
	"context"
	"time"
)

// Policy defines the parameters for reconnect delay calculation.
// The delay for attempt n is Interval * n, so with the default 2s
// interval the ramp is 2s, 4s, 6s, 8s, 10s.
type Policy struct {
	// Interval is the base delay multiplied by the attempt number.
	Interval time.Duration
	// MaxAttempts is the hard cap; exceeding it means give up.
	MaxAttempts int
}

// DefaultPolicy returns the reconnect policy used by the chat client.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    2 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay calculates the delay before the given attempt. Attempt
// numbers start at 1; values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Interval * time.Duration(attempt)
}

// Exhausted reports whether the given attempt number exceeds the cap.
// A MaxAttempts of zero or below means no cap.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Sleep waits for the delay of the given attempt, respecting context
// cancellation. Returns nil if the sleep completed, or ctx.Err() if
// the context was cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	return SleepWithContext(ctx, p.Delay(attempt))
}

// SleepWithContext sleeps for the specified duration, respecting
// context cancellation.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
