// Package retry implements a small exponential backoff policy.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
)

// Policy describes how many times and how quickly an operation is retried.
// Attempt n (zero-based) waits BaseDelay * Factor^n plus up to Jitter before running again.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	Jitter     time.Duration
	// Retryable decides whether an error warrants another attempt. Nil means never.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// FromConfig builds a policy from the range-sync retry configuration.
func FromConfig(cfg config.RetryConfig, retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Factor:     cfg.Factor,
		Jitter:     cfg.Jitter,
		Retryable:  retryable,
	}
}

// ContainsAny returns a predicate matching errors whose text includes any marker.
func ContainsAny(markers ...string) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		for _, m := range markers {
			if strings.Contains(msg, m) {
				return true
			}
		}
		return false
	}
}

// WithSleep returns a copy of p that waits with fn instead of a timer.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

// Delay returns the wait before the retry following the given zero-based attempt, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	f := p.Factor
	if f < 1 {
		f = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(f, float64(attempt)))
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of retries or ctx ends.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	jitter := p.jitter
	if jitter == nil {
		jitter = randomJitter
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		delay := p.Delay(attempt)
		if p.Jitter > 0 {
			delay += jitter(p.Jitter)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(max) + 1))
}
