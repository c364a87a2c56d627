package store

import (
	"sort"
	"sync"

	"github.com/akinalp/threadline/models"
)

// ThreadStore holds the reply lists of opened threads, keyed by root id.
// Events for threads that are not open are ignored; opening a thread loads
// it from the server.
type ThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*Store
}

// NewThreadStore creates an empty thread store.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{threads: make(map[string]*Store)}
}

// Open returns the reply store of rootID, creating it on first use.
func (t *ThreadStore) Open(rootID string) *Store {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.threads[rootID]; ok {
		return s
	}
	s := newStore(func(m *models.Message) bool {
		return m.ThreadID != nil && *m.ThreadID == rootID
	})
	t.threads[rootID] = s
	return s
}

// Thread returns the reply store of rootID if it is open.
func (t *ThreadStore) Thread(rootID string) (*Store, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.threads[rootID]
	return s, ok
}

// Roots returns the root ids of the open threads.
func (t *ThreadStore) Roots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roots := make([]string, 0, len(t.threads))
	for root := range t.threads {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Close forgets rootID.
func (t *ThreadStore) Close(rootID string) {
	t.mu.Lock()
	delete(t.threads, rootID)
	t.mu.Unlock()
}

// Reset closes every thread.
func (t *ThreadStore) Reset() {
	t.mu.Lock()
	clear(t.threads)
	t.mu.Unlock()
}

// Apply routes ev to the thread it belongs to. Deletes carry no thread id
// and go to every open thread.
func (t *ThreadStore) Apply(ev Event) bool {
	if ev.Kind == KindDelete {
		t.mu.RLock()
		stores := make([]*Store, 0, len(t.threads))
		for _, s := range t.threads {
			stores = append(stores, s)
		}
		t.mu.RUnlock()

		changed := false
		for _, s := range stores {
			if s.Apply(ev) {
				changed = true
			}
		}
		return changed
	}

	if ev.Message == nil || !ev.Message.IsThreadReply() {
		return false
	}
	s, ok := t.Thread(*ev.Message.ThreadID)
	if !ok {
		return false
	}
	return s.Apply(ev)
}
