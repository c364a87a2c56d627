package realtime

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/akinalp/threadline/client/store"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
)

const enrichTimeout = 10 * time.Second

// Enricher fills in author profiles and reply context. It returns the
// message enriched as far as it got, even together with an error.
type Enricher interface {
	Enrich(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// pending is the newest event seen for a message id in this generation.
type pending struct {
	seq     uint64
	created bool
}

// Dispatcher applies message notifications of the active scope to the
// stores.
//
// Creates and updates are enriched off the receiving goroutine. Payloads are
// full snapshots, so when several events for one id are in flight only the
// newest one is applied; a create superseded by an update still inserts the
// message. Results are dropped when the scope changed while enriching.
//
// Per message id, with events numbered in arrival order:
//
//	in flight        arrives   applied
//	-                create    create, once enriched
//	create #1        update    #1 is dropped; #2 inserts the message
//	update #1        update    #1 is dropped; #2 replaces the message
//	anything         delete    removed at once; late results are dropped
//
// Enrichments finish in any order, so the sequence recorded in latest, not
// completion order, decides which result wins. A delete is applied
// synchronously and leaves a tombstone in the store, so a create that
// arrives after it cannot bring the message back.
type Dispatcher struct {
	messages *store.Store
	threads  *store.ThreadStore
	enricher Enricher

	mu    sync.RWMutex
	scope models.Scope
	gen   uint64

	seq    atomic.Uint64
	latest *xsync.MapOf[string, pending]
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. threads and enricher may be nil.
func NewDispatcher(messages *store.Store, threads *store.ThreadStore, enricher Enricher) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		threads:  threads,
		enricher: enricher,
		latest:   xsync.NewMapOf[string, pending](),
	}
}

// SetScope switches the active scope. In-flight enrichments of the previous
// scope are discarded when they complete.
func (d *Dispatcher) SetScope(scope models.Scope) {
	d.mu.Lock()
	d.scope = scope
	d.gen++
	d.mu.Unlock()

	d.latest.Clear()
}

// Scope returns the active scope.
func (d *Dispatcher) Scope() models.Scope {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scope
}

// Attach subscribes the dispatcher to channel. Subscription failures are
// logged and swallowed; the returned func is always safe to call.
func (d *Dispatcher) Attach(ctx context.Context, sub Subscriber, channel string) (detach func()) {
	unsubscribe, err := sub.Subscribe(ctx, channel, d.Handle)
	if err != nil {
		log.Printf("[realtime] subscribe %s failed, continuing without push: %v", channel, err)
		return func() {}
	}
	return unsubscribe
}

// Handle processes one notification. It never blocks on enrichment.
func (d *Dispatcher) Handle(ev docstore.Event) {
	sev, err := Parse(ev)
	if err != nil {
		log.Printf("[realtime] dropping notification: %v", err)
		return
	}
	msg := sev.Message

	d.mu.RLock()
	scope, gen := d.scope, d.gen
	d.mu.RUnlock()

	if scope.IsZero() || msg.ScopeID != scope.ID {
		return
	}

	seq := d.seq.Add(1)

	if sev.Kind == store.KindDelete {
		// Supersedes anything still enriching for this id.
		d.latest.Store(msg.ID, pending{seq: seq})
		d.applyIfCurrent(gen, sev)
		return
	}

	d.latest.Compute(msg.ID, func(old pending, loaded bool) (pending, bool) {
		return pending{seq: seq, created: old.created || sev.Kind == store.KindCreate}, false
	})

	d.wg.Add(1)
	go d.enrichAndApply(gen, seq, msg)
}

// Insert applies a message the local user just wrote, e.g. the response of
// a send. It goes through the same dedup-by-id insert as notifications, so
// the realtime echo of the same message converges on one entry. It is
// dropped when scope is no longer active.
func (d *Dispatcher) Insert(scope models.Scope, msg *models.Message) bool {
	d.mu.RLock()
	gen, current := d.gen, d.scope == scope
	d.mu.RUnlock()

	if !current || msg.ScopeID != scope.ID {
		return false
	}
	return d.applyIfCurrent(gen, store.Create(msg))
}

// Wait blocks until every in-flight enrichment has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) enrichAndApply(gen, seq uint64, msg *models.Message) {
	defer d.wg.Done()

	if d.enricher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		enriched, err := d.enricher.Enrich(ctx, msg)
		cancel()
		if err != nil {
			log.Printf("[realtime] enrichment of %s incomplete: %v", msg.ID, err)
		}
		if enriched != nil {
			msg = enriched
		}
	}

	// Only the newest event of this id may apply, and it clears its entry
	// so the map does not grow with every message ever seen.
	var created, current bool
	d.latest.Compute(msg.ID, func(old pending, loaded bool) (pending, bool) {
		if !loaded || old.seq != seq {
			return old, !loaded
		}
		created, current = old.created, true
		return old, true
	})
	if !current {
		return
	}

	// A create that lost the race against the realtime echo of our own
	// send finds the id present and falls through to an update.
	if created {
		if d.applyIfCurrent(gen, store.Create(msg)) {
			return
		}
	}
	d.applyIfCurrent(gen, store.Update(msg))
}

// applyIfCurrent applies ev unless the scope changed since generation gen.
// The read lock is held across the apply so a scope switch cannot interleave.
func (d *Dispatcher) applyIfCurrent(gen uint64, ev store.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.gen != gen {
		return false
	}

	if ev.Message != nil && ev.Message.IsThreadReply() {
		if d.threads == nil {
			return false
		}
		return d.threads.Apply(ev)
	}
	changed := d.messages.Apply(ev)
	if ev.Kind == store.KindDelete && d.threads != nil {
		if d.threads.Apply(ev) {
			changed = true
		}
	}
	return changed
}
