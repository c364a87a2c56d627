// Package store holds the client's in-memory view of a scope: the ordered,
// deduplicated top-level messages and, separately, the replies of opened
// threads.
//
// Every mutation goes through Apply, which is idempotent per message id. The
// realtime feed and the send pipeline may deliver the same message in any
// order and the store converges to one entry.
package store

import (
	"sort"
	"sync"

	"github.com/akinalp/threadline/models"
)

// Kind tags an Event.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one store mutation. Create and Update carry Message; Delete only
// needs ID.
type Event struct {
	Kind    Kind
	Message *models.Message
	ID      string
}

// Create returns a create event for msg.
func Create(msg *models.Message) Event {
	return Event{Kind: KindCreate, Message: msg, ID: msg.ID}
}

// Update returns an update event for msg.
func Update(msg *models.Message) Event {
	return Event{Kind: KindUpdate, Message: msg, ID: msg.ID}
}

// Delete returns a delete event for id.
func Delete(id string) Event {
	return Event{Kind: KindDelete, ID: id}
}

// Store is an ordered message list, unique by id, sorted ascending by
// createdAt then id. It is safe for concurrent use.
type Store struct {
	accept func(*models.Message) bool

	mu         sync.RWMutex
	messages   []models.Message
	index      map[string]int
	tombstones map[string]struct{}

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
}

// New returns the top-level store of a scope. Thread replies are never
// admitted.
func New() *Store {
	return newStore(func(m *models.Message) bool { return !m.IsThreadReply() })
}

func newStore(accept func(*models.Message) bool) *Store {
	return &Store{
		accept:     accept,
		index:      make(map[string]int),
		tombstones: make(map[string]struct{}),
		listeners:  make(map[int]func()),
	}
}

// Apply applies ev and reports whether the store changed. Listeners are
// notified after the change is visible.
func (s *Store) Apply(ev Event) bool {
	s.mu.Lock()
	changed := s.applyLocked(ev)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// ApplyAll applies a batch and notifies listeners at most once.
func (s *Store) ApplyAll(events []Event) bool {
	s.mu.Lock()
	changed := false
	for _, ev := range events {
		if s.applyLocked(ev) {
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

func (s *Store) applyLocked(ev Event) bool {
	switch ev.Kind {
	case KindCreate:
		msg := ev.Message
		if msg == nil || msg.ID == "" || !s.accept(msg) {
			return false
		}
		if _, ok := s.index[msg.ID]; ok {
			return false
		}
		if _, ok := s.tombstones[msg.ID]; ok {
			return false
		}
		s.messages = append(s.messages, *msg)
		s.sortLocked()
		return true

	case KindUpdate:
		msg := ev.Message
		if msg == nil {
			return false
		}
		i, ok := s.index[msg.ID]
		if !ok {
			return false
		}
		if !s.accept(msg) {
			// A message that turned into something this store does not hold.
			s.removeLocked(i)
			return true
		}
		s.messages[i] = merge(s.messages[i], *msg)
		s.sortLocked()
		return true

	case KindDelete:
		s.tombstones[ev.ID] = struct{}{}
		i, ok := s.index[ev.ID]
		if !ok {
			return false
		}
		s.removeLocked(i)
		return true
	}
	return false
}

// merge lays incoming over existing. Enrichment that the incoming copy lacks
// is kept, and so is a counter snapshot when incoming carries none.
func merge(existing, incoming models.Message) models.Message {
	out := incoming
	if out.Author == nil {
		out.Author = existing.Author
	}
	if out.ReplyContext == nil {
		out.ReplyContext = existing.ReplyContext
	}
	if out.CreatedAt == "" {
		out.CreatedAt = existing.CreatedAt
	}
	if out.ScopeID == "" {
		out.ScopeID = existing.ScopeID
	}
	if out.Revision != 0 && existing.Revision > out.Revision {
		// Older snapshot than the one held.
		return existing
	}
	return out
}

func (s *Store) removeLocked(i int) {
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.reindexLocked()
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Less(&s.messages[j])
	})
	s.reindexLocked()
}

func (s *Store) reindexLocked() {
	clear(s.index)
	for i := range s.messages {
		s.index[s.messages[i].ID] = i
	}
}

// Messages returns a copy of the list, oldest first.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i], true
}

// Has reports whether id is held.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Oldest returns the first message, the pagination cursor.
func (s *Store) Oldest() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[0], true
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset empties the store, tombstones included.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	clear(s.index)
	clear(s.tombstones)
	s.mu.Unlock()

	s.notify()
}

// OnChange registers fn to run after every change and returns the func that
// removes it. fn runs on the goroutine that applied the change.
func (s *Store) OnChange(fn func()) (remove func()) {
	s.listenerMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
