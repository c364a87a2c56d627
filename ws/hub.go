package ws

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/pkg/metrics"
)

// Source is where the hub gets events from. docstore.Store satisfies it.
type Source interface {
	Subscribe(channel string, fn func(docstore.Event)) (unsubscribe func())
}

// Hub tracks connections and their channel subscriptions.
//
// The hub holds one Source subscription per channel no matter how many
// connections listen on it; the first subscriber opens it and the last one
// closes it.
type Hub struct {
	source        Source
	channelPrefix string
	metrics       *metrics.Metrics

	mu sync.RWMutex
	// channel -> connections
	subscribers map[string]map[*Client]struct{}
	// channel -> Source unsubscribe func
	upstream map[string]func()
	clients  map[*Client]struct{}

	unregister chan *Client
	done       chan struct{}

	onUserFullyDisconnected func(userID string)

	seq atomic.Int64
}

// NewHub creates a hub. Only channels starting with channelPrefix may be
// subscribed to (e.g. "databases.main.").
func NewHub(source Source, channelPrefix string, m *metrics.Metrics) *Hub {
	return &Hub{
		source:        source,
		channelPrefix: channelPrefix,
		metrics:       m,
		subscribers:   make(map[string]map[*Client]struct{}),
		upstream:      make(map[string]func()),
		clients:       make(map[*Client]struct{}),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
	}
}

// Run processes unregistrations until Shutdown. Start it in its own
// goroutine. Removal is funneled through here because it can be triggered
// from the read pump and from delivery at the same time.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.done:
			return
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	var closers []func()
	for channel := range client.channels {
		if fn := h.detachLocked(client, channel); fn != nil {
			closers = append(closers, fn)
		}
	}
	close(client.send)
	lastConnection := !h.userConnectedLocked(client.userID)
	onGone := h.onUserFullyDisconnected
	h.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	h.metrics.ClientDisconnected()
	log.Printf("[ws] client disconnected: user=%s conn=%s", client.userID, client.id)

	// A user with another tab still open keeps their state.
	if lastConnection && onGone != nil {
		onGone(client.userID)
	}
}

// OnUserFullyDisconnected registers fn to run when a user's last connection
// is gone, whether it closed cleanly or timed out.
func (h *Hub) OnUserFullyDisconnected(fn func(userID string)) {
	h.mu.Lock()
	h.onUserFullyDisconnected = fn
	h.mu.Unlock()
}

func (h *Hub) userConnectedLocked(userID string) bool {
	for c := range h.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// Subscribe adds channels to client. It returns the channels that were
// rejected for not matching the prefix.
func (h *Hub) Subscribe(client *Client, channels []string) (rejected []string) {
	var opens []string

	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return nil
	}
	for _, channel := range channels {
		if !h.Allowed(channel) {
			rejected = append(rejected, channel)
			continue
		}
		if _, ok := client.channels[channel]; ok {
			continue
		}
		client.channels[channel] = struct{}{}
		if h.subscribers[channel] == nil {
			h.subscribers[channel] = make(map[*Client]struct{})
		}
		h.subscribers[channel][client] = struct{}{}
		if _, ok := h.upstream[channel]; !ok {
			// Placeholder so a concurrent Subscribe does not open it twice.
			h.upstream[channel] = nil
			opens = append(opens, channel)
		}
	}
	h.mu.Unlock()

	for _, channel := range opens {
		channel := channel
		unsubscribe := h.source.Subscribe(channel, func(ev docstore.Event) {
			h.deliver(channel, ev)
		})

		h.mu.Lock()
		if fn, ok := h.upstream[channel]; ok && fn == nil && len(h.subscribers[channel]) > 0 {
			h.upstream[channel] = unsubscribe
			unsubscribe = nil
		}
		h.mu.Unlock()

		// Everyone left while the upstream subscription was being opened.
		if unsubscribe != nil {
			unsubscribe()
		}
	}
	return rejected
}

// Unsubscribe removes channels from client.
func (h *Hub) Unsubscribe(client *Client, channels []string) {
	var closers []func()

	h.mu.Lock()
	for _, channel := range channels {
		if _, ok := client.channels[channel]; !ok {
			continue
		}
		if fn := h.detachLocked(client, channel); fn != nil {
			closers = append(closers, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
}

// detachLocked removes client from channel and returns the upstream
// unsubscribe func when it was the last listener. Caller holds h.mu.
func (h *Hub) detachLocked(client *Client, channel string) func() {
	delete(client.channels, channel)
	subs := h.subscribers[channel]
	delete(subs, client)
	if len(subs) > 0 {
		return nil
	}
	delete(h.subscribers, channel)
	fn := h.upstream[channel]
	delete(h.upstream, channel)
	return fn
}

// deliver fans ev out to the subscribers of channel. It runs on the
// publisher's goroutine, so it never blocks: a client whose buffer is full
// is dropped.
func (h *Hub) deliver(channel string, ev docstore.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[ws] failed to marshal document event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	kind := eventKind(ev)
	for client := range h.subscribers[channel] {
		frame, err := json.Marshal(Event{Op: OpEvent, Data: raw, Seq: h.seq.Add(1)})
		if err != nil {
			log.Printf("[ws] failed to marshal frame: %v", err)
			return
		}
		select {
		case client.send <- frame:
			h.metrics.EventSent(kind)
		default:
			log.Printf("[ws] send buffer full for conn %s, dropping connection", client.id)
			go h.Unregister(client)
		}
	}
}

// Register adds the client. It returns false once the hub is shut down.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return false
	default:
	}
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientConnected()
	log.Printf("[ws] client connected: user=%s conn=%s (total: %d)", client.userID, client.id, total)
	return true
}

// Allowed reports whether channel may be subscribed to.
func (h *Hub) Allowed(channel string) bool {
	return strings.HasPrefix(channel, h.channelPrefix)
}

// Unregister removes the client. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops Run.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var closers []func()
	for client := range h.clients {
		close(client.send)
		h.metrics.ClientDisconnected()
	}
	for _, fn := range h.upstream {
		if fn != nil {
			closers = append(closers, fn)
		}
	}
	h.clients = make(map[*Client]struct{})
	h.subscribers = make(map[string]map[*Client]struct{})
	h.upstream = make(map[string]func())
	close(h.done)
	h.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	log.Println("[ws] hub shut down, all connections closed")
}

// eventKind is the create/update/delete suffix of the first event name.
func eventKind(ev docstore.Event) string {
	if len(ev.Events) == 0 {
		return "unknown"
	}
	name := ev.Events[0]
	return name[strings.LastIndexByte(name, '.')+1:]
}
