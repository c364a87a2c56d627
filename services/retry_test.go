package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/pkg"
)

func TestRetryPolicyLinearBackoff(t *testing.T) {
	clk := clock.NewMock()
	policy := RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond, Clock: clk}

	var calls []time.Time
	done := make(chan error, 1)
	go func() {
		done <- policy.Run(context.Background(), "test", func(ctx context.Context, attempt int) error {
			calls = append(calls, clk.Now())
			return fmt.Errorf("%w: busy", pkg.ErrConflict)
		})
	}()

	// Let the loop reach each wait before moving the clock.
	for _, step := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		time.Sleep(10 * time.Millisecond)
		clk.Add(step)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, pkg.ErrConcurrencyExhausted)
		assert.ErrorContains(t, err, "busy")
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not finish")
	}

	require.Len(t, calls, 3)
	start := calls[0]
	assert.Equal(t, 100*time.Millisecond, calls[1].Sub(start))
	assert.Equal(t, 300*time.Millisecond, calls[2].Sub(start))
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{Attempts: 3}
	calls := 0
	err := policy.Run(context.Background(), "test", func(ctx context.Context, attempt int) error {
		calls++
		return fmt.Errorf("%w: gone", pkg.ErrNotFound)
	})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.False(t, errors.Is(err, pkg.ErrConcurrencyExhausted))
	assert.Equal(t, 1, calls)
}

func TestRetryPolicySucceedsOnLaterAttempt(t *testing.T) {
	policy := RetryPolicy{Attempts: 3}
	err := policy.Run(context.Background(), "test", func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return pkg.ErrConflict
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Hour, Clock: clock.NewMock()}
	err := policy.Run(ctx, "test", func(ctx context.Context, attempt int) error {
		cancel()
		return pkg.ErrConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
}
