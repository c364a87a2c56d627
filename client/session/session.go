// Package session wires the client core together around one active scope.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/threadline/client/enrich"
	"github.com/akinalp/threadline/client/pagination"
	"github.com/akinalp/threadline/client/presence"
	"github.com/akinalp/threadline/client/realtime"
	"github.com/akinalp/threadline/client/sender"
	"github.com/akinalp/threadline/client/store"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
)

// API is the REST surface the session needs. *api.Client satisfies it.
type API interface {
	pagination.Fetcher
	sender.Writer
	presence.Emitter
	enrich.Source
	GetThread(ctx context.Context, rootID, cursor string, limit int) (*models.ThreadPage, error)
}

// Options configures a session. Zero values use the package defaults.
type Options struct {
	// SelfID is the signed-in user; their own typing indicator is hidden.
	SelfID     string
	DatabaseID string // default "main"
	PageSize   int
	ProfileTTL time.Duration
	Typing     presence.DebouncerOptions
	Presence   presence.AggregatorOptions
	Send       sender.Options
	Composer   sender.Composer
	Clock      clock.Clock
}

// Session owns the stores of the active scope and keeps them in sync.
type Session struct {
	api        API
	sub        realtime.Subscriber
	databaseID string
	pageSize   int

	messages   *store.Store
	threads    *store.ThreadStore
	enricher   *enrich.Enricher
	dispatcher *realtime.Dispatcher
	pager      *pagination.Pager
	typing     *presence.Debouncer
	presence   *presence.Aggregator
	sender     *sender.Sender

	mu     sync.Mutex
	scope  models.Scope
	detach []func()

	removeReconnect func()
}

// resyncTimeout bounds the refetch that follows a reconnect.
const resyncTimeout = 30 * time.Second

// New creates a session. Nothing is loaded until Switch.
func New(client API, sub realtime.Subscriber, opts Options) *Session {
	if opts.DatabaseID == "" {
		opts.DatabaseID = "main"
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = pagination.DefaultPageSize
	}
	opts.Presence.SelfID = opts.SelfID

	messages := store.New()
	threads := store.NewThreadStore()
	enricher := enrich.New(client, opts.ProfileTTL, opts.Clock)
	dispatcher := realtime.NewDispatcher(messages, threads, enricher)

	s := &Session{
		api:        client,
		sub:        sub,
		databaseID: opts.DatabaseID,
		pageSize:   opts.PageSize,
		messages:   messages,
		threads:    threads,
		enricher:   enricher,
		dispatcher: dispatcher,
		pager:      pagination.New(client, messages, opts.PageSize),
		typing:     presence.NewDebouncer(client, opts.Typing, opts.Clock),
		presence:   presence.NewAggregator(opts.Presence, opts.Clock),
		sender:     sender.New(client, dispatcher, enricher, opts.Composer, opts.Send, opts.Clock),
	}
	if r, ok := sub.(realtime.Reconnector); ok {
		s.removeReconnect = r.OnReconnect(s.resync)
	}
	return s
}

// Switch makes scope the active scope: the previous subscriptions are
// dropped, the stores are emptied, the new scope's channels are subscribed
// and its newest page is loaded. A switch that is overtaken by another one
// returns nil once its load is discarded.
func (s *Session) Switch(ctx context.Context, scope models.Scope) error {
	if scope.IsZero() || !scope.Kind.Valid() {
		return fmt.Errorf("session: invalid scope %q", scope)
	}

	s.mu.Lock()
	s.detachLocked()
	s.scope = scope

	s.typing.SetScope(scope)
	s.presence.SetScope(scope.ID)
	s.dispatcher.SetScope(scope)
	s.threads.Reset()
	s.pager.Reset(scope)

	messages := docstore.CollectionChannel(s.databaseID, scope.Kind.Collection())
	s.detach = append(s.detach, s.dispatcher.Attach(ctx, s.sub, messages))

	typing := docstore.CollectionChannel(s.databaseID, models.CollectionTyping)
	if unsubscribe, err := s.sub.Subscribe(ctx, typing, s.onTyping); err != nil {
		log.Printf("[presence] subscribe %s failed, typing indicators disabled: %v", typing, err)
	} else {
		s.detach = append(s.detach, unsubscribe)
	}
	s.mu.Unlock()

	if err := s.pager.LoadLatest(ctx); err != nil && !errors.Is(err, pagination.ErrStale) {
		return err
	}
	return nil
}

// LoadOlder loads the page before the oldest loaded message.
func (s *Session) LoadOlder(ctx context.Context) error {
	err := s.pager.LoadOlder(ctx)
	if errors.Is(err, pagination.ErrStale) {
		return nil
	}
	return err
}

// CanLoadOlder reports whether older history may exist.
func (s *Session) CanLoadOlder() bool {
	return s.pager.CanLoadOlder()
}

// Scope returns the active scope.
func (s *Session) Scope() models.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Messages is the top-level store of the active scope.
func (s *Session) Messages() *store.Store {
	return s.messages
}

// OpenThread opens the thread id belongs to and loads its replies. id may be
// the root or any reply: the server resolves it, and the returned root's id
// is the key the store is tracked under, so pass that to CloseThread. The
// store keeps receiving replies until then.
func (s *Session) OpenThread(ctx context.Context, id string) (*store.Store, *models.Message, error) {
	// Opened before the fetch so replies pushed meanwhile are kept when id
	// is the root itself.
	_, wasOpen := s.threads.Thread(id)
	s.threads.Open(id)

	page, err := s.api.GetThread(ctx, id, "", s.pageSize)
	if err != nil {
		if !wasOpen {
			s.threads.Close(id)
		}
		return nil, nil, err
	}

	rootID := id
	if page.ParentMessage != nil && page.ParentMessage.ID != "" {
		rootID = page.ParentMessage.ID
	}
	if rootID != id && !wasOpen {
		s.threads.Close(id)
	}

	thread := s.threads.Open(rootID)
	thread.ApplyAll(threadEvents(thread, page.Replies))
	return thread, page.ParentMessage, nil
}

// threadEvents turns fetched replies into store events: new replies are
// created, held ones updated.
func threadEvents(thread *store.Store, replies []models.Message) []store.Event {
	events := make([]store.Event, 0, len(replies))
	for i := range replies {
		if thread.Has(replies[i].ID) {
			events = append(events, store.Update(&replies[i]))
			continue
		}
		events = append(events, store.Create(&replies[i]))
	}
	return events
}

// CloseThread stops tracking the thread of rootID.
func (s *Session) CloseThread(rootID string) {
	s.threads.Close(rootID)
}

// Send sends text into the active scope and stops the typing indicator.
func (s *Session) Send(ctx context.Context, text string, attachments []models.Attachment) (*models.Message, error) {
	msg, err := s.sender.Send(ctx, text, attachments)
	if err != nil {
		return nil, err
	}
	s.typing.Flush()
	return msg, nil
}

// Reply sends text into the thread of messageID.
func (s *Session) Reply(ctx context.Context, messageID, text string) (*models.Message, error) {
	return s.sender.Reply(ctx, messageID, text, nil)
}

// Input reports a change of the compose field for the typing indicator.
func (s *Session) Input(text string) {
	s.typing.OnInput(text)
}

// Typing returns the ids of the remote users typing in the active scope.
func (s *Session) Typing() []string {
	return s.presence.Typing()
}

// OnTypingChange registers fn to run when the set of typing users changes.
func (s *Session) OnTypingChange(fn func(userIDs []string)) (remove func()) {
	return s.presence.OnChange(fn)
}

// Profile returns the cached profile of userID.
func (s *Session) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	return s.enricher.Profile(ctx, userID)
}

// Wait blocks until in-flight realtime enrichments have been applied.
func (s *Session) Wait() {
	s.dispatcher.Wait()
}

// Close drops the subscriptions and stops the timers. The subscriber is
// owned by the caller and stays open.
func (s *Session) Close() {
	if s.removeReconnect != nil {
		s.removeReconnect()
	}

	s.mu.Lock()
	s.detachLocked()
	s.scope = models.Scope{}
	s.mu.Unlock()

	s.typing.Close()
	s.presence.Close()
	s.dispatcher.Wait()
	s.enricher.Close()
}

func (s *Session) detachLocked() {
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
}

func (s *Session) onTyping(ev docstore.Event) {
	n, err := realtime.ParseTyping(ev)
	if err != nil {
		log.Printf("[presence] dropping notification: %v", err)
		return
	}
	s.presence.Observe(n.Indicator, n.Stopped)
}

// resync refetches what the realtime connection may have missed while it
// was down: the newest page of the scope and the replies of open threads.
func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	if err := s.pager.Refresh(ctx); err != nil && !errors.Is(err, pagination.ErrStale) {
		log.Printf("[session] refresh after reconnect failed: %v", err)
	}

	for _, root := range s.threads.Roots() {
		page, err := s.api.GetThread(ctx, root, "", s.pageSize)
		if err != nil {
			log.Printf("[session] refresh of thread %s after reconnect failed: %v", root, err)
			continue
		}
		// Closed or reset while fetching.
		thread, ok := s.threads.Thread(root)
		if !ok {
			continue
		}
		thread.ApplyAll(threadEvents(thread, page.Replies))
	}
}
