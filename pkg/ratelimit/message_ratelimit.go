// Package ratelimit holds the per-user message flood guard of the server.
//
// A user may send maxMessages within window. The next message starts a
// cooldown during which everything is rejected; when it ends the window
// starts over. Window and cooldown are separate so a short burst window can
// carry a longer penalty.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type messageBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero: no cooldown
}

// MessageRateLimiter limits message creation per user id.
//
//	limiter := NewMessageRateLimiter(5, 5*time.Second, 15*time.Second, nil)
//	if !limiter.Allow(userID) { return 429 }
type MessageRateLimiter struct {
	mu          sync.RWMutex
	clock       clock.Clock
	buckets     map[string]*messageBucket
	maxMessages int
	window      time.Duration
	cooldown    time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMessageRateLimiter creates the limiter and starts its cleanup goroutine.
// A nil clock means the wall clock.
func NewMessageRateLimiter(maxMessages int, window, cooldown time.Duration, clk clock.Clock) *MessageRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	rl := &MessageRateLimiter{
		clock:       clk,
		buckets:     make(map[string]*messageBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a message from userID and reports whether it may pass.
func (rl *MessageRateLimiter) Allow(userID string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[userID]
	if !exists {
		rl.buckets[userID] = &messageBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() {
		if now.Before(b.cooldownUntil) {
			return false
		}
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}
	return true
}

// CooldownSeconds is the Retry-After value for userID, 0 when not limited.
func (rl *MessageRateLimiter) CooldownSeconds(userID string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[userID]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := b.cooldownUntil.Sub(rl.clock.Now())
	if remaining <= 0 {
		return 0
	}
	// Round up so the client never retries early.
	return int(remaining.Seconds()) + 1
}

// Stop ends the cleanup goroutine.
func (rl *MessageRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *MessageRateLimiter) cleanupLoop() {
	ticker := rl.clock.Ticker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets whose window and cooldown have both passed.
func (rl *MessageRateLimiter) cleanup() {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)
		if windowExpired && cooldownExpired {
			delete(rl.buckets, userID)
		}
	}
}
