// Package presence handles typing indicators in both directions: the local
// user's outbound start/stop signals and the remote users' inbound ones.
package presence

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"

	"github.com/akinalp/threadline/models"
)

// State is the local typing state.
type State int

const (
	// Idle: nothing sent, nothing scheduled.
	Idle State = iota
	// PendingStart: the user typed; start goes out when StartDelay elapses.
	PendingStart
	// Active: start was sent; stop goes out after IdleTimeout without input.
	Active
	// PendingStop: stop is being sent. New input goes back to PendingStart.
	PendingStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingStart:
		return "pending_start"
	case Active:
		return "active"
	case PendingStop:
		return "pending_stop"
	default:
		return "unknown"
	}
}

const emitTimeout = 5 * time.Second

// Emitter sends the local typing state. *api.Client satisfies it.
type Emitter interface {
	SetTyping(ctx context.Context, scope models.Scope, state string) error
}

// DebouncerOptions are the outbound timer windows.
type DebouncerOptions struct {
	StartDelay  time.Duration // default 500ms
	IdleTimeout time.Duration // default 5s
	MinRepeat   time.Duration // default 3s
}

func (o DebouncerOptions) withDefaults() DebouncerOptions {
	if o.StartDelay <= 0 {
		o.StartDelay = 500 * time.Millisecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Second
	}
	if o.MinRepeat <= 0 {
		o.MinRepeat = 3 * time.Second
	}
	return o
}

// Debouncer turns compose-field changes into start/stop emissions.
//
// Typing schedules start after StartDelay and (re)arms the idle timer; the
// idle timer sends stop. Clearing the field cancels a pending start and
// sends stop at once. While Active, further input re-sends start so remote
// sweeps keep the indicator alive; a repeat of the last sent state within
// MinRepeat is dropped.
//
// Emissions are queued and sent in order by a single worker goroutine, so
// a slow server never blocks the caller handling keystrokes. The worker
// exits when the queue is empty and is restarted by the next emission.
type Debouncer struct {
	emitter Emitter
	clock   clock.Clock
	opts    DebouncerOptions

	mu         sync.Mutex
	state      State
	scope      models.Scope
	startTimer *clock.Timer
	idleTimer  *clock.Timer
	startSeq   uint64
	idleSeq    uint64

	emitMu    sync.Mutex
	queue     deque.Deque[signal]
	sending   bool
	drained   *sync.Cond
	lastState string
	lastScope models.Scope
	lastAt    time.Time
}

// signal is one queued emission, stamped with the time it was decided.
type signal struct {
	scope  models.Scope
	state  string
	finish bool
	at     time.Time
}

// NewDebouncer creates a debouncer. A nil clock means the wall clock.
func NewDebouncer(emitter Emitter, opts DebouncerOptions, clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.New()
	}
	d := &Debouncer{emitter: emitter, clock: clk, opts: opts.withDefaults()}
	d.drained = sync.NewCond(&d.emitMu)
	return d
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetScope moves the debouncer to another scope. A started indicator in the
// old scope is stopped.
func (d *Debouncer) SetScope(scope models.Scope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Active {
		d.emit(d.scope, models.TypingStop, false)
	}
	d.cancelTimersLocked()
	d.state = Idle
	d.scope = scope
}

// OnInput handles a change of the compose field. Emissions are queued while
// the state lock is held, so they go out in the order the state changed.
func (d *Debouncer) OnInput(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scope.IsZero() {
		return
	}

	if strings.TrimSpace(text) == "" {
		d.cancelTimersLocked()
		if d.state == Active {
			d.state = PendingStop
			d.emit(d.scope, models.TypingStop, true)
		} else if d.state != PendingStop {
			d.state = Idle
		}
		return
	}

	switch d.state {
	case Idle, PendingStop:
		d.state = PendingStart
		d.armStartLocked()
	case Active:
		d.emit(d.scope, models.TypingStart, false)
	}
	d.armIdleLocked()
}

// Flush stops a started indicator at once, e.g. right after the message
// was sent.
func (d *Debouncer) Flush() {
	d.OnInput("")
}

// Close cancels the timers, stops a started indicator and waits for the
// queued emissions to go out.
func (d *Debouncer) Close() {
	d.SetScope(models.Scope{})
	d.Wait()
}

// Wait blocks until every queued emission has been sent or has failed.
func (d *Debouncer) Wait() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	for d.sending {
		d.drained.Wait()
	}
}

func (d *Debouncer) armStartLocked() {
	if d.startTimer != nil {
		d.startTimer.Stop()
	}
	d.startSeq++
	seq := d.startSeq
	d.startTimer = d.clock.AfterFunc(d.opts.StartDelay, func() { d.onStart(seq) })
}

func (d *Debouncer) armIdleLocked() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleSeq++
	seq := d.idleSeq
	d.idleTimer = d.clock.AfterFunc(d.opts.IdleTimeout, func() { d.onIdle(seq) })
}

func (d *Debouncer) cancelTimersLocked() {
	if d.startTimer != nil {
		d.startTimer.Stop()
		d.startTimer = nil
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	// Callbacks already running see a stale sequence and do nothing.
	d.startSeq++
	d.idleSeq++
}

func (d *Debouncer) onStart(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seq != d.startSeq || d.state != PendingStart {
		return
	}
	d.state = Active
	d.startTimer = nil
	d.emit(d.scope, models.TypingStart, false)
}

func (d *Debouncer) onIdle(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seq != d.idleSeq {
		return
	}
	d.idleTimer = nil

	switch d.state {
	case PendingStart:
		// Never started, nothing to stop.
		if d.startTimer != nil {
			d.startTimer.Stop()
			d.startTimer = nil
		}
		d.startSeq++
		d.state = Idle
	case Active:
		d.state = PendingStop
		d.emit(d.scope, models.TypingStop, true)
	}
}

// finishStop leaves PendingStop once the stop has been sent, unless new
// input already moved on.
func (d *Debouncer) finishStop() {
	d.mu.Lock()
	if d.state == PendingStop {
		d.state = Idle
	}
	d.mu.Unlock()
}

// emit queues state for the worker and returns at once. With finish the
// debouncer leaves PendingStop after the send. Callers hold d.mu; the worker
// never takes it while holding emitMu.
func (d *Debouncer) emit(scope models.Scope, state string, finish bool) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.queue.PushBack(signal{scope: scope, state: state, finish: finish, at: d.clock.Now()})
	if !d.sending {
		d.sending = true
		go d.sendLoop()
	}
}

// sendLoop sends queued signals in order until the queue is empty. A repeat
// of the last sent state and scope within MinRepeat is dropped; a failed
// send is logged and does not count as sent.
func (d *Debouncer) sendLoop() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	for d.queue.Len() > 0 {
		sig := d.queue.PopFront()
		repeat := sig.state == d.lastState && sig.scope == d.lastScope && sig.at.Sub(d.lastAt) < d.opts.MinRepeat

		d.emitMu.Unlock()
		var err error
		if !repeat {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			err = d.emitter.SetTyping(ctx, sig.scope, sig.state)
			cancel()
		}
		if sig.finish {
			d.finishStop()
		}
		d.emitMu.Lock()

		switch {
		case repeat:
		case err != nil:
			log.Printf("[presence] failed to send typing %s for %s: %v", sig.state, sig.scope, err)
		default:
			d.lastState, d.lastScope, d.lastAt = sig.state, sig.scope, sig.at
		}
	}
	d.sending = false
	d.drained.Broadcast()
}
