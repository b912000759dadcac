package auth

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelayFunc pauses before a password verdict is returned.
type DelayFunc func(ctx context.Context) error

// RandomDelay waits a uniformly random duration in [lo, hi].
func RandomDelay(lo, hi time.Duration) DelayFunc {
	if hi < lo {
		hi = lo
	}
	return func(ctx context.Context) error {
		d := lo
		if span := hi - lo; span > 0 {
			d += rand.N(span + 1)
		}
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
}

// NoDelay returns immediately.
func NoDelay(ctx context.Context) error { return ctx.Err() }
