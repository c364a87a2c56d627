package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"

	"github.com/akinalp/threadline/models"
)

// AggregatorOptions are the inbound timer windows.
type AggregatorOptions struct {
	StaleAfter    time.Duration // default 6s
	SweepInterval time.Duration // default 1s
	BatchWindow   time.Duration // default 100ms

	// SelfID is the local user; its own indicators are ignored.
	SelfID string
}

func (o AggregatorOptions) withDefaults() AggregatorOptions {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 6 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = 100 * time.Millisecond
	}
	return o
}

// update is one queued indicator, stamped with its local receive time.
type update struct {
	userID  string
	scopeID string
	stopped bool
	at      time.Time
}

// Aggregator keeps the set of remote users typing in the current scope.
//
// Indicators are stamped with the local receive time; the server timestamp
// is not compared against the local clock. A user drops out on stop or
// when no start arrived for StaleAfter. Inbound updates are queued and
// applied once per BatchWindow so a burst produces one change notification.
type Aggregator struct {
	clock clock.Clock
	opts  AggregatorOptions

	mu        sync.Mutex
	scopeID   string
	typing    map[string]time.Time
	queue     deque.Deque[update]
	armed     bool
	listeners map[int]func([]string)
	nextID    int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewAggregator creates an aggregator and starts its sweep. A nil clock
// means the wall clock.
func NewAggregator(opts AggregatorOptions, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	a := &Aggregator{
		clock:     clk,
		opts:      opts.withDefaults(),
		typing:    make(map[string]time.Time),
		listeners: make(map[int]func([]string)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go a.sweepLoop(a.clock.Ticker(a.opts.SweepInterval))
	return a
}

// SetScope switches to scopeID and forgets everyone typing elsewhere.
func (a *Aggregator) SetScope(scopeID string) {
	a.mu.Lock()
	changed := len(a.typing) > 0
	a.scopeID = scopeID
	a.typing = make(map[string]time.Time)
	a.queue.Clear()
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

// Observe queues an inbound indicator.
func (a *Aggregator) Observe(ind models.TypingIndicator, stopped bool) {
	if ind.UserID == "" || ind.UserID == a.opts.SelfID {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.queue.PushBack(update{
		userID:  ind.UserID,
		scopeID: ind.ScopeID,
		stopped: stopped,
		at:      a.clock.Now(),
	})
	if !a.armed {
		a.armed = true
		a.clock.AfterFunc(a.opts.BatchWindow, a.flush)
	}
}

// Typing returns the ids of the users typing now, sorted.
func (a *Aggregator) Typing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// OnChange registers fn to run with the new set after every change.
func (a *Aggregator) OnChange(fn func(userIDs []string)) (remove func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Close stops the sweep.
func (a *Aggregator) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	a.armed = false
	changed := false
	for a.queue.Len() > 0 {
		u := a.queue.PopFront()
		if u.scopeID != a.scopeID {
			continue
		}
		_, present := a.typing[u.userID]
		if u.stopped {
			if present {
				delete(a.typing, u.userID)
				changed = true
			}
			continue
		}
		a.typing[u.userID] = u.at
		if !present {
			changed = true
		}
	}
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

// sweepLoop drops indicators nobody refreshed. It is the only thing that
// clears a user whose client vanished without sending stop, unless the
// server already removed the indicator for them.
func (a *Aggregator) sweepLoop(ticker *clock.Ticker) {
	defer close(a.done)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Aggregator) sweep() {
	now := a.clock.Now()

	a.mu.Lock()
	changed := false
	for userID, at := range a.typing {
		if now.Sub(at) > a.opts.StaleAfter {
			delete(a.typing, userID)
			changed = true
		}
	}
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

func (a *Aggregator) notify() {
	a.mu.Lock()
	ids := a.snapshotLocked()
	fns := make([]func([]string), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(ids)
	}
}

func (a *Aggregator) snapshotLocked() []string {
	ids := make([]string, 0, len(a.typing))
	for id := range a.typing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
