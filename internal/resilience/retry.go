// Package resilience provides the retry primitive used for session
// (re)connect attempts. Failures against a realtime endpoint are usually
// transient, so connects are retried with exponential backoff rather than
// surfaced on the first refusal.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff describes an exponential backoff schedule.
type Backoff struct {
	// Initial is the delay before the second attempt. Default: 500ms.
	Initial time.Duration

	// Max caps the delay between attempts. Default: 15s.
	Max time.Duration

	// Attempts is the total number of tries, including the first.
	// Default: 5. Values below 1 are treated as 1.
	Attempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 15 * time.Second
	}
	if b.Attempts < 1 {
		b.Attempts = 5
	}
	return b
}

// delay returns the wait before attempt n (0-based; attempt 0 has no wait).
func (b Backoff) delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := b.Initial << (n - 1)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return d
}

// Retry runs fn until it succeeds, all attempts are used up, or ctx is
// cancelled. name labels the operation in log output. The returned error is
// the last failure, or ctx.Err() when cancelled mid-schedule.
func Retry(ctx context.Context, name string, b Backoff, fn func(context.Context) error) error {
	b = b.withDefaults()

	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if wait := b.delay(attempt); wait > 0 {
			slog.Info("retrying", "op", name, "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("attempt failed", "op", name, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", name, b.Attempts, err)
}
