// Package retry runs remote calls under an explicit retry policy.
//
// One Policy type covers both disciplines the pipeline needs: the bounded
// exponential backoff applied to destination and aggregate API calls, and the
// unbounded fixed-interval retry applied to dataset downloads.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/ratelimit"
)

// ErrExhausted is wrapped by the error returned when a call still fails after
// the last permitted retry.
var ErrExhausted = errors.New("retries exhausted")

// Unbounded as MaxRetries retries forever.
const Unbounded = -1

// Policy describes when and how often a call is retried.
type Policy struct {
	// Name appears in log lines.
	Name string
	// MaxRetries is the number of retries after the first attempt; Unbounded for no limit.
	MaxRetries int
	// Delay is the wait before the first retry.
	Delay time.Duration
	// Multiplier grows Delay after every retry. Values below 1 keep the delay fixed.
	Multiplier float64
	// Retryable classifies an error as transient. Nil means nothing is retried.
	Retryable func(error) bool
	// Limiter, when set, is waited on before every attempt.
	Limiter *ratelimit.APILimiter
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// API returns the policy applied to destination and aggregate store calls:
// up to maxRetries retries on server errors, delays base, 2*base, 4*base...
func API(maxRetries int, base time.Duration, limiter *ratelimit.APILimiter) Policy {
	return Policy{
		Name:       "api",
		MaxRetries: maxRetries,
		Delay:      base,
		Multiplier: 2,
		Retryable:  IsServerError,
		Limiter:    limiter,
	}
}

// Network returns the policy applied to downloads: retry connectivity failures
// forever with a fixed delay.
func Network(delay time.Duration) Policy {
	return Policy{
		Name:       "network",
		MaxRetries: Unbounded,
		Delay:      delay,
		Multiplier: 1,
		Retryable:  IsNetworkError,
	}
}

// Do calls op until it succeeds, fails with a non-retryable error, exhausts
// the policy, or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := p.Delay
	for attempt := 0; ; attempt++ {
		err := p.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if p.MaxRetries >= 0 && attempt >= p.MaxRetries {
			return fmt.Errorf("%s: %w after %d retries: %w", p.Name, ErrExhausted, attempt, err)
		}

		slog.WarnContext(ctx, "transient failure, retrying",
			"policy", p.Name, "retry", attempt+1, "delay", delay, "error", err)

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if err := p.Limiter.Wait(ctx); err != nil {
		return err
	}
	defer p.Limiter.Release()
	return op(ctx)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
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
