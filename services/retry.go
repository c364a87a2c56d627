package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/pkg/metrics"
)

// RetryPolicy drives read-modify-write updates of shared values that the
// document store cannot update atomically (thread counters, reaction maps).
//
// Every attempt must re-read the value it modifies and write it back with
// the revision it read; a concurrent writer turns the write into
// pkg.ErrConflict and the next attempt starts over from a fresh read. After
// failed attempt n the controller waits BaseDelay*n before the next one, so
// with the defaults a contended reply waits 100ms and then 200ms. When the
// budget is spent the last error is returned wrapped in
// pkg.ErrConcurrencyExhausted, which reaches the client as a 500 with code
// "concurrency_exhausted".
//
// Each retry and each exhausted budget is counted per operation in Metrics
// (nil disables counting). A nil Clock means the wall clock; tests pass a
// mock to step through the backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// DefaultRetryPolicy is three attempts with 100ms linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Run calls fn with attempt numbers starting at 1.
//
// Not found, forbidden and bad request errors end the loop at once: they
// cannot be fixed by a fresh read. So does a cancelled context, both when
// fn returns it and while waiting out the backoff.
func (p RetryPolicy) Run(ctx context.Context, operation string, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			p.Metrics.CounterRetry(operation)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		log.Printf("[%s] attempt %d/%d failed: %v", operation, attempt, attempts, lastErr)

		if delay := p.BaseDelay * time.Duration(attempt); delay > 0 {
			select {
			case <-clk.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	p.Metrics.CounterExhausted(operation)
	log.Printf("[%s] giving up after %d attempts: %v", operation, attempts, lastErr)
	return fmt.Errorf("%w: %s: %v", pkg.ErrConcurrencyExhausted, operation, lastErr)
}

func isPermanent(err error) bool {
	return errors.Is(err, pkg.ErrNotFound) ||
		errors.Is(err, pkg.ErrForbidden) ||
		errors.Is(err, pkg.ErrBadRequest) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
