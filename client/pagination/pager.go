// Package pagination loads scope history page by page, newest first, using
// the oldest loaded message id as the cursor.
package pagination

import (
	"context"
	"errors"
	"sync"

	"github.com/akinalp/threadline/client/store"
	"github.com/akinalp/threadline/models"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 50

// ErrStale is returned when the scope changed while a page was loading.
// The response has been discarded.
var ErrStale = errors.New("pagination: scope changed during load")

// Fetcher loads one page of top-level messages. *api.Client satisfies it.
type Fetcher interface {
	ListMessages(ctx context.Context, scope models.Scope, cursor string, limit int) (*models.MessagePage, error)
}

// Pager tracks the cursor and the "more history exists" flag of one store.
//
// A page of exactly pageSize items means more may exist; anything shorter
// means the beginning was reached. Responses are checked against the scope
// at completion time, so a page that arrives after a scope switch is
// dropped.
type Pager struct {
	fetcher  Fetcher
	store    *store.Store
	pageSize int

	// applyMu orders page application against Reset; mu guards the fields
	// and is never held while the store notifies listeners.
	applyMu sync.Mutex
	mu      sync.Mutex
	scope   models.Scope
	gen     uint64
	cursor  string
	hasMore bool
	loading bool
}

// New creates a pager filling s. pageSize <= 0 uses DefaultPageSize.
func New(fetcher Fetcher, s *store.Store, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{fetcher: fetcher, store: s, pageSize: pageSize}
}

// Reset switches to scope and empties the store. Loads started before the
// reset are discarded when they complete.
func (p *Pager) Reset(scope models.Scope) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	p.scope = scope
	p.gen++
	p.cursor = ""
	p.hasMore = false
	p.loading = false
	p.mu.Unlock()

	p.store.Reset()
}

// LoadInitial resets to scope and loads its newest page.
func (p *Pager) LoadInitial(ctx context.Context, scope models.Scope) error {
	p.Reset(scope)
	return p.LoadLatest(ctx)
}

// LoadLatest loads the newest page of the current scope into the store.
func (p *Pager) LoadLatest(ctx context.Context) error {
	p.mu.Lock()
	if p.scope.IsZero() {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	gen, scope := p.gen, p.scope
	p.mu.Unlock()

	return p.load(ctx, gen, scope, "", false)
}

// Refresh refetches the newest page of the current scope and merges it
// into the store: new messages are added and held ones are updated. The
// cursor and the "more history" flag stay as they are, since older pages
// were already loaded. Use it after the realtime connection dropped; a gap
// longer than one page is not recovered.
func (p *Pager) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.scope.IsZero() {
		p.mu.Unlock()
		return nil
	}
	gen, scope := p.gen, p.scope
	p.mu.Unlock()

	return p.load(ctx, gen, scope, "", true)
}

// LoadOlder loads the page before the oldest loaded message. It does
// nothing when no older history exists or a load is already running.
func (p *Pager) LoadOlder(ctx context.Context) error {
	p.mu.Lock()
	if p.loading || !p.hasMore || p.cursor == "" {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	gen, scope, cursor := p.gen, p.scope, p.cursor
	p.mu.Unlock()

	return p.load(ctx, gen, scope, cursor, false)
}

// load fetches one page and applies it unless the pager was reset in the
// meantime. The generation check runs under applyMu, so a page can never
// land in a store that Reset has already handed to another scope.
func (p *Pager) load(ctx context.Context, gen uint64, scope models.Scope, cursor string, refresh bool) error {
	page, err := p.fetcher.ListMessages(ctx, scope, cursor, p.pageSize)

	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return ErrStale
	}
	if !refresh {
		p.loading = false
	}
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if !refresh || p.cursor == "" {
		p.hasMore = len(page.Items) == p.pageSize
	}
	p.mu.Unlock()

	events := make([]store.Event, 0, len(page.Items))
	for i := range page.Items {
		msg := &page.Items[i]
		if refresh && p.store.Has(msg.ID) {
			events = append(events, store.Update(msg))
			continue
		}
		events = append(events, store.Create(msg))
	}
	p.store.ApplyAll(events)

	if oldest, ok := p.store.Oldest(); ok {
		p.mu.Lock()
		p.cursor = oldest.ID
		p.mu.Unlock()
	}
	return nil
}

// HasMore reports whether the last page was full.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// CanLoadOlder reports whether the "load older" affordance should show.
func (p *Pager) CanLoadOlder() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore && p.cursor != ""
}

// Cursor returns the id of the oldest loaded message.
func (p *Pager) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Scope returns the scope being paged.
func (p *Pager) Scope() models.Scope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope
}
