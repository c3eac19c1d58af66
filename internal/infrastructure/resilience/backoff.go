package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/clock"
)

// ErrRetriesExhausted is returned by Retry when every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff is an exponential retry schedule: Initial, Initial*Multiplier, ...
// capped at Max.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff mirrors the agent output defaults: 10 attempts starting at
// 125ms and doubling.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts:   10,
		Initial:    125 * time.Millisecond,
		Multiplier: 2,
		Max:        30 * time.Second,
	}
}

// schedule returns the policy without jitter or an elapsed time limit.
func (b Backoff) schedule(clk clock.Clock) *backoff.ExponentialBackOff {
	e := backoff.NewExponentialBackOff()
	e.InitialInterval = b.Initial
	e.RandomizationFactor = 0
	e.Multiplier = max(b.Multiplier, 1)
	e.MaxInterval = b.Max
	if e.MaxInterval <= 0 {
		e.MaxInterval = time.Duration(math.MaxInt64)
	}
	e.MaxElapsedTime = 0
	e.Clock = clk
	e.Reset()
	return e
}

// Delay returns the wait before attempt n (0-based). Attempt 0 has no wait.
func (b Backoff) Delay(n int) time.Duration {
	var d time.Duration
	s := b.schedule(clock.Real())
	for i := 0; i < n; i++ {
		d = s.NextBackOff()
	}
	return d
}

// Permanent wraps an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a permanent error, the context is
// cancelled, or the attempts run out. onRetry, if set, is called before each
// wait with the number of the next attempt and the error of the failed one.
func (b Backoff) Retry(ctx context.Context, clk clock.Clock, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	clk = clock.OrReal(clk)
	attempts := max(b.Attempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b.schedule(clk), uint64(attempts-1)), ctx)

	attempt := 0
	var last error
	err := backoff.RetryNotifyWithTimer(func() error {
		last = fn(attempt)
		attempt++
		return last
	}, policy, func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}, &clockTimer{clk: clk})

	switch {
	case err == nil:
		return nil
	case IsPermanent(last):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errors.Join(ErrRetriesExhausted, err)
	}
}

// clockTimer drives backoff waits from a clock.Clock.
type clockTimer struct {
	clk clock.Clock
	c   <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clk.After(d) }

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time { return t.c }
