// Package ratelimit paces calls to the remote destination and aggregate APIs.
package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Definition configures an APILimiter. A zero FillRate disables rate limiting,
// a zero MaxConcurrency disables the concurrency bound.
type Definition struct {
	Name           string
	FillRate       rate.Limit
	BucketSize     int
	MaxConcurrency int64
}

// Validate reports configuration problems.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("rate limiter must have a name")
	}
	if d.FillRate < 0 || d.BucketSize < 0 || d.MaxConcurrency < 0 {
		return fmt.Errorf("rate limiter %q: negative limits", d.Name)
	}
	if d.FillRate > 0 && d.BucketSize == 0 {
		return fmt.Errorf("rate limiter %q: fill rate set without bucket size", d.Name)
	}
	return nil
}

// APILimiter combines a token bucket with a concurrency bound.
// Callers must pair every successful Wait with a Release.
type APILimiter struct {
	Name string

	limiter        *rate.Limiter
	sem            *semaphore.Weighted
	maxConcurrency int64
}

// New creates an APILimiter from d.
func New(d Definition) *APILimiter {
	l := &APILimiter{Name: d.Name, maxConcurrency: d.MaxConcurrency}
	if d.FillRate > 0 {
		l.limiter = rate.NewLimiter(d.FillRate, d.BucketSize)
	}
	if d.MaxConcurrency > 0 {
		l.sem = semaphore.NewWeighted(d.MaxConcurrency)
	}
	return l
}

func (l *APILimiter) String() string {
	var parts []string
	if l.limiter != nil {
		parts = append(parts, fmt.Sprintf("Limit(/s): %v, Burst: %d", l.limiter.Limit(), l.limiter.Burst()))
	}
	if l.sem != nil {
		parts = append(parts, fmt.Sprintf("MaxConcurrency: %d", l.maxConcurrency))
	}
	if len(parts) == 0 {
		return l.Name + ": unlimited"
	}
	return l.Name + ": " + strings.Join(parts, " ")
}

// Wait blocks until a call may proceed or ctx is done.
// A nil limiter never blocks.
func (l *APILimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			l.release()
			return err
		}
	}
	return nil
}

// Release frees the concurrency slot taken by Wait.
func (l *APILimiter) Release() {
	if l == nil {
		return
	}
	l.release()
}

func (l *APILimiter) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}
