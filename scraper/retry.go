package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the attempts made for one listing page. The delay
// between attempts is drawn uniformly from [MinDelay, MaxDelay].
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Sleep waits between attempts. It must return early with ctx.Err() when
	// ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand draws the jitter. Nil uses the global source.
	Rand *rand.Rand
}

// DefaultRetryPolicy returns three attempts with a 2-5s jittered pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// Delay draws the next pause.
func (p RetryPolicy) Delay() time.Duration {
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	span := int64(p.MaxDelay-p.MinDelay) + 1
	var n int64
	if p.Rand != nil {
		n = p.Rand.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return p.MinDelay + time.Duration(n)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Errors are classified before the retry decision, so fn
// may return raw session errors. It reports how many retries were made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	retries := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retries, interrupted(retries, ctxErr, err)
		}

		err = classifyError(fn(ctx, attempt))
		if err == nil {
			return retries, nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}

		retries++
		if sleepErr := sleep(ctx, p.Delay()); sleepErr != nil {
			return retries, interrupted(retries, sleepErr, err)
		}
	}
	return retries, fmt.Errorf("giving up after %d attempt(s): %w", retries+1, err)
}

// interrupted reports a stop between attempts, keeping both the cause and
// the last fetch error.
func interrupted(attempts int, cause, last error) error {
	if last == nil {
		return cause
	}
	return fmt.Errorf("retry interrupted after %d attempt(s): %w", attempts, errors.Join(cause, last))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
