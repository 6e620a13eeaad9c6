package embedder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how a failed remote call is retried. The zero value is
// not useful; start from DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first (default 3).
	MaxAttempts int
	// BaseDelay is the wait before the first retry (default 1s).
	BaseDelay time.Duration
	// MaxDelay caps every wait (default 60s).
	MaxDelay time.Duration
	// Jitter adds up to 20% random extra wait.
	Jitter bool
}

// DefaultRetryPolicy returns 3 attempts with waits doubling from 1s, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait that follows a previous wait of prev (zero before
// the first retry). The wait starts at BaseDelay and doubles each retry; a
// server-requested Retry-After raises it but does not reset the doubling, so
// repeated identical Retry-After hints still back off. Capped at MaxDelay.
// Jitter is not included.
func (p RetryPolicy) Delay(prev time.Duration, err error) time.Duration {
	delay := p.BaseDelay
	if prev > 0 {
		delay = 2 * prev
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
		delay = apiErr.RetryAfter
	}
	return min(delay, p.MaxDelay)
}

// jittered adds up to 20% to d when Jitter is set, capped at MaxDelay.
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if !p.Jitter {
		return d
	}
	d += time.Duration(rand.Float64() * 0.2 * float64(d))
	return min(d, p.MaxDelay)
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepCtx is the production sleepFunc.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails fatally, or MaxAttempts is reached.
// onRetry, when non-nil, is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	return p.do(ctx, sleepCtx, fn, onRetry)
}

func (p RetryPolicy) do(ctx context.Context, sleep sleepFunc, fn func(context.Context) error, onRetry func(int, time.Duration, error)) error {
	p = p.withDefaults()

	var (
		lastErr error
		prev    time.Duration
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == Fatal {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		prev = p.Delay(prev, lastErr)
		delay := p.jittered(prev)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("embedder: retry wait interrupted: %w", err)
		}
	}

	return &RetryExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
