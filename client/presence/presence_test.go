package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/models"
)

const (
	testWait = time.Second
	testTick = time.Millisecond
)

var (
	general = models.Scope{Kind: models.ScopeChannel, ID: "general"}
	random  = models.Scope{Kind: models.ScopeChannel, ID: "random"}
)

type emission struct {
	scope models.Scope
	state string
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []emission
}

func (e *recordingEmitter) SetTyping(ctx context.Context, scope models.Scope, state string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, emission{scope: scope, state: state})
	return nil
}

func (e *recordingEmitter) states() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.sent))
	for _, s := range e.sent {
		out = append(out, s.state)
	}
	return out
}

func (e *recordingEmitter) last() emission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent[len(e.sent)-1]
}

func newDebouncer(t *testing.T) (*Debouncer, *recordingEmitter, *clock.Mock) {
	t.Helper()
	em := &recordingEmitter{}
	mock := clock.NewMock()
	d := NewDebouncer(em, DebouncerOptions{
		StartDelay:  500 * time.Millisecond,
		IdleTimeout: 5 * time.Second,
		MinRepeat:   3 * time.Second,
	}, mock)
	d.SetScope(general)
	return d, em, mock
}

func startTyping(t *testing.T, d *Debouncer, em *recordingEmitter, mock *clock.Mock) {
	t.Helper()
	d.OnInput("h")
	assert.Equal(t, PendingStart, d.State())
	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(em.states()) == 1 }, testWait, testTick)
	require.Equal(t, []string{models.TypingStart}, em.states())
	require.Equal(t, Active, d.State())
}

func TestDebouncer_StartAfterDelay(t *testing.T) {
	d, em, mock := newDebouncer(t)

	d.OnInput("h")
	mock.Add(200 * time.Millisecond)
	assert.Empty(t, em.states(), "nothing is sent before the start delay")

	mock.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return len(em.states()) == 1 }, testWait, testTick)
	assert.Equal(t, emission{scope: general, state: models.TypingStart}, em.last())
	assert.Equal(t, Active, d.State())
}

func TestDebouncer_IdleTimeoutSendsStop(t *testing.T) {
	d, em, mock := newDebouncer(t)
	startTyping(t, d, em, mock)

	mock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return len(em.states()) == 2 && d.State() == Idle }, testWait, testTick)
	assert.Equal(t, []string{models.TypingStart, models.TypingStop}, em.states())
}

func TestDebouncer_ClearingCancelsPendingStart(t *testing.T) {
	d, em, mock := newDebouncer(t)

	d.OnInput("h")
	d.OnInput("")
	assert.Equal(t, Idle, d.State())

	mock.Add(10 * time.Second)
	assert.Empty(t, em.states(), "a start that never went out needs no stop")
}

func TestDebouncer_ClearingWhileActiveStopsAtOnce(t *testing.T) {
	d, em, mock := newDebouncer(t)
	startTyping(t, d, em, mock)

	d.OnInput("   ")
	d.Wait()
	assert.Equal(t, Idle, d.State())
	assert.Equal(t, []string{models.TypingStart, models.TypingStop}, em.states())
}

func TestDebouncer_RepeatedStartIsSuppressed(t *testing.T) {
	d, em, mock := newDebouncer(t)
	startTyping(t, d, em, mock)

	d.OnInput("he")
	d.Wait()
	assert.Equal(t, []string{models.TypingStart}, em.states(), "repeat within the minimum interval")

	mock.Add(3 * time.Second)
	d.OnInput("hel")
	d.Wait()
	assert.Equal(t, []string{models.TypingStart, models.TypingStart}, em.states())
	assert.Equal(t, Active, d.State())
}

func TestDebouncer_InputKeepsIndicatorAlive(t *testing.T) {
	d, em, mock := newDebouncer(t)
	startTyping(t, d, em, mock)

	// Keep typing every 4s; the idle timer never gets to fire.
	for i := 0; i < 3; i++ {
		mock.Add(4 * time.Second)
		d.OnInput("more")
	}
	d.Wait()
	assert.Equal(t, Active, d.State())
	assert.NotContains(t, em.states(), models.TypingStop)
}

func TestDebouncer_ScopeSwitchStopsOldScope(t *testing.T) {
	d, em, mock := newDebouncer(t)
	startTyping(t, d, em, mock)

	d.SetScope(random)
	assert.Equal(t, Idle, d.State())
	d.Wait()
	assert.Equal(t, emission{scope: general, state: models.TypingStop}, em.last())
}

func TestDebouncer_NoScopeSendsNothing(t *testing.T) {
	em := &recordingEmitter{}
	mock := clock.NewMock()
	d := NewDebouncer(em, DebouncerOptions{}, mock)

	d.OnInput("hello")
	mock.Add(time.Minute)
	assert.Equal(t, Idle, d.State())
	assert.Empty(t, em.states())
}

// gatedEmitter blocks every send until the gate is closed.
type gatedEmitter struct {
	recordingEmitter
	gate chan struct{}
}

func (e *gatedEmitter) SetTyping(ctx context.Context, scope models.Scope, state string) error {
	<-e.gate
	return e.recordingEmitter.SetTyping(ctx, scope, state)
}

func TestDebouncer_SlowServerDoesNotBlockInput(t *testing.T) {
	em := &gatedEmitter{gate: make(chan struct{})}
	mock := clock.NewMock()
	d := NewDebouncer(em, DebouncerOptions{}, mock)
	d.SetScope(general)

	d.OnInput("h")
	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return d.State() == Active }, testWait, testTick)

	// The start is stuck on the server; clearing the field must not wait
	// for it.
	returned := make(chan struct{})
	go func() {
		d.OnInput("")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(testWait):
		t.Fatal("OnInput blocked on the pending send")
	}
	assert.Equal(t, PendingStop, d.State(), "the stop is queued behind the start")
	assert.Empty(t, em.states())

	close(em.gate)
	d.Wait()
	assert.Equal(t, []string{models.TypingStart, models.TypingStop}, em.states(), "sent in order")
	assert.Equal(t, Idle, d.State())
}

func newAggregator(t *testing.T) (*Aggregator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	a := NewAggregator(AggregatorOptions{
		StaleAfter:    6 * time.Second,
		SweepInterval: time.Second,
		BatchWindow:   100 * time.Millisecond,
		SelfID:        "me",
	}, mock)
	t.Cleanup(a.Close)
	a.SetScope("general")
	return a, mock
}

func pending(a *Aggregator) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Len()
}

func indicator(userID, scopeID string) models.TypingIndicator {
	return models.TypingIndicator{UserID: userID, ScopeID: scopeID}
}

func TestAggregator_BurstIsOneNotification(t *testing.T) {
	a, mock := newAggregator(t)

	var notified atomic.Int32
	a.OnChange(func([]string) { notified.Add(1) })

	a.Observe(indicator("u2", "general"), false)
	a.Observe(indicator("u3", "general"), false)
	a.Observe(indicator("u2", "general"), false)
	assert.Empty(t, a.Typing(), "updates wait for the batch window")

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 2 }, testWait, testTick)
	assert.Equal(t, []string{"u2", "u3"}, a.Typing())
	require.Eventually(t, func() bool { return notified.Load() == 1 }, testWait, testTick)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}

func TestAggregator_IgnoresSelfAndOtherScopes(t *testing.T) {
	a, mock := newAggregator(t)

	a.Observe(indicator("me", "general"), false)
	a.Observe(indicator("u2", "random"), false)
	a.Observe(indicator("u3", "general"), false)

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 1 }, testWait, testTick)
	assert.Equal(t, []string{"u3"}, a.Typing())
}

func TestAggregator_StopRemoves(t *testing.T) {
	a, mock := newAggregator(t)

	a.Observe(indicator("u2", "general"), false)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 1 }, testWait, testTick)

	a.Observe(indicator("u2", "general"), true)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 0 }, testWait, testTick)
}

func TestAggregator_StaleIndicatorIsSwept(t *testing.T) {
	a, mock := newAggregator(t)

	a.Observe(indicator("u2", "general"), false)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 1 }, testWait, testTick)

	// Still inside the staleness window.
	mock.Add(5 * time.Second)
	assert.Equal(t, []string{"u2"}, a.Typing())

	// Past the window plus one sweep interval.
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return len(a.Typing()) == 0 }, testWait, testTick)
}

func TestAggregator_RefreshExtendsWindow(t *testing.T) {
	a, mock := newAggregator(t)

	a.Observe(indicator("u2", "general"), false)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 1 }, testWait, testTick)

	mock.Add(4 * time.Second)
	a.Observe(indicator("u2", "general"), false)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return pending(a) == 0 }, testWait, testTick)

	mock.Add(4 * time.Second)
	assert.Equal(t, []string{"u2"}, a.Typing())
}

func TestAggregator_ScopeSwitchClears(t *testing.T) {
	a, mock := newAggregator(t)

	a.Observe(indicator("u2", "general"), false)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(a.Typing()) == 1 }, testWait, testTick)

	a.SetScope("random")
	assert.Empty(t, a.Typing())
}
