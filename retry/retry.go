package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential-backoff executor for transient failures.
// The zero value is not usable; start from Default and adjust.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration // backoff cap
	Jitter      float64       // 0..1, fraction of the delay randomized
}

// Default returns the policy used for venue calls: 5 attempts over a
// 1s, 2s, 4s, 8s, 16s backoff ladder. Do sleeps between attempts;
// DoDelayed (reconnection) sleeps before every attempt, walking the
// whole ladder.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    16 * time.Second,
		Jitter:      0.1,
	}
}

// Delay returns the backoff before attempt n (0-based: the delay after the
// n+1th failure). BaseDelay * 2^n, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}
	// 2^30s already exceeds any sane cap; avoid shift overflow.
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	f := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// Do runs fn until it succeeds, the attempt budget is spent, or retryable
// reports the error is not worth retrying. The first attempt runs
// immediately; the last error is returned unwrapped so callers can
// classify it.
//
// Backoff sleeps respect ctx: cancellation during a sleep returns ctx.Err().
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	return p.do(ctx, false, retryable, fn)
}

// DoDelayed is Do with a backoff before every attempt, the first included.
// It suits reconnection, where the call itself follows a failure: under
// Default the five attempts sleep 1s, 2s, 4s, 8s and 16s.
func (p Policy) DoDelayed(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	return p.do(ctx, true, retryable, fn)
}

func (p Policy) do(ctx context.Context, delayFirst bool, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 || delayFirst {
			n := attempt - 1
			if delayFirst {
				n = attempt
			}
			t := time.NewTimer(p.jittered(p.Delay(n)))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
