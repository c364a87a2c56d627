package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/ws"
)

const (
	writeWait         = 10 * time.Second
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second

	// HeartbeatInterval is how often an open connection proves it is alive.
	// The server drops a connection after three silent intervals, so an
	// idle subscription must keep heartbeating to keep receiving events.
	HeartbeatInterval = 30 * time.Second
)

// Subscriber is the push primitive the client core depends on.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, fn func(docstore.Event)) (unsubscribe func(), err error)
}

// Reconnector is implemented by subscribers that can lose events while
// redialing. Listeners refetch what they show once the connection is back.
type Reconnector interface {
	OnReconnect(fn func()) (remove func())
}

// Pool shares one websocket connection among every subscriber of a session.
//
// Channels are reference counted: the first subscriber of a channel sends
// the subscribe frame, the last one sends unsubscribe, and the connection
// itself is closed when no channel is left. A dropped connection is redialed
// in the background with every live channel resubscribed; events published
// while it was down are not replayed, which is what OnReconnect is for.
//
// Every connection heartbeats on HeartbeatInterval. The heartbeat goes
// through the same ack round trip as sync, so a missing ack closes the
// connection and starts a redial instead of waiting for the server to time
// it out.
type Pool struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	clock  clock.Clock

	mu           sync.Mutex
	conn         *websocket.Conn
	refs         map[string]int
	handlers     map[string]map[uint64]func(docstore.Event)
	nextID       uint64
	closed       bool
	reconnecting bool
	reconnectFns map[uint64]func()

	writeMu sync.Mutex
	syncMu  sync.Mutex
	acks    chan struct{}
}

// NewPool creates a pool for the server at baseURL (http or https). No
// connection is made until the first Subscribe.
func NewPool(baseURL, token string, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.New()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Pool{
		url:          realtimeURL(baseURL),
		header:       header,
		dialer:       websocket.DefaultDialer,
		clock:        clk,
		refs:         make(map[string]int),
		handlers:     make(map[string]map[uint64]func(docstore.Event)),
		reconnectFns: make(map[uint64]func()),
		acks:         make(chan struct{}, 1),
	}
}

func realtimeURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/realtime"
}

// Subscribe registers fn for events on channel. It returns once the server
// has the subscription in place. Failures wrap ErrTransient.
func (p *Pool) Subscribe(ctx context.Context, channel string, fn func(docstore.Event)) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool closed", ErrTransient)
	}

	p.nextID++
	id := p.nextID
	if p.handlers[channel] == nil {
		p.handlers[channel] = make(map[uint64]func(docstore.Event))
	}
	p.handlers[channel][id] = fn
	p.refs[channel]++
	first := p.refs[channel] == 1
	wasConnected := p.conn != nil

	// A fresh dial carries every channel in ?channels=, this one included.
	err := p.connectLocked(ctx)
	conn := p.conn
	p.mu.Unlock()

	if err != nil {
		p.release(channel, id)
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { p.release(channel, id) })
	}

	if first && wasConnected {
		if err := p.send(conn, ws.OpSubscribe, ws.SubscribeData{Channels: []string{channel}}); err != nil {
			unsubscribe()
			return nil, err
		}
		if err := p.sync(ctx, conn); err != nil {
			unsubscribe()
			return nil, err
		}
	}
	return unsubscribe, nil
}

// OnReconnect registers fn to run after a dropped connection has been
// redialed. It runs on the reconnect goroutine and may block.
func (p *Pool) OnReconnect(fn func()) (remove func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.reconnectFns[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.reconnectFns, id)
		p.mu.Unlock()
	}
}

// Connected reports whether a connection is open.
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Channels returns the subscribed channels, sorted.
func (p *Pool) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelsLocked()
}

// Close drops every subscription and the connection. Later Subscribe calls
// fail.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.conn = nil
	clear(p.refs)
	clear(p.handlers)
	clear(p.reconnectFns)
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (p *Pool) channelsLocked() []string {
	channels := make([]string, 0, len(p.refs))
	for ch := range p.refs {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// connectLocked dials when no connection is open and waits for ready.
func (p *Pool) connectLocked(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	u := p.url
	if channels := p.channelsLocked(); len(channels) > 0 {
		u += "?" + url.Values{"channels": {strings.Join(channels, ",")}}.Encode()
	}

	conn, _, err := p.dialer.DialContext(ctx, u, p.header)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrTransient, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var ready ws.Event
	if err := conn.ReadJSON(&ready); err != nil || ready.Op != ws.OpReady {
		conn.Close()
		return fmt.Errorf("%w: no ready frame (op=%q, err=%v)", ErrTransient, ready.Op, err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	p.conn = conn
	ticker := p.clock.Ticker(HeartbeatInterval)
	alive, stop := context.WithCancel(context.Background())
	go func() {
		defer stop()
		p.readLoop(conn)
	}()
	go p.heartbeatLoop(alive, conn, ticker)
	return nil
}

// heartbeatLoop keeps conn alive until it is closed. A heartbeat that is not
// acknowledged in time closes conn, which the read loop turns into a redial.
func (p *Pool) heartbeatLoop(alive context.Context, conn *websocket.Conn, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-alive.Done():
			return
		case <-ticker.C:
			if err := p.sync(alive, conn); err != nil {
				if alive.Err() != nil {
					return
				}
				log.Printf("[realtime] heartbeat failed, dropping connection: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// release drops one subscription. The last subscriber of a channel sends
// unsubscribe; the last subscriber overall closes the connection.
func (p *Pool) release(channel string, id uint64) {
	p.mu.Lock()
	if hs := p.handlers[channel]; hs != nil {
		delete(hs, id)
		if len(hs) == 0 {
			delete(p.handlers, channel)
		}
	}

	lastForChannel := false
	if n, ok := p.refs[channel]; ok {
		if n <= 1 {
			delete(p.refs, channel)
			lastForChannel = true
		} else {
			p.refs[channel] = n - 1
		}
	}

	conn := p.conn
	closeConn := len(p.refs) == 0 && conn != nil
	if closeConn {
		p.conn = nil
	}
	p.mu.Unlock()

	switch {
	case closeConn:
		conn.Close()
	case lastForChannel && conn != nil:
		if err := p.send(conn, ws.OpUnsubscribe, ws.SubscribeData{Channels: []string{channel}}); err != nil {
			log.Printf("[realtime] failed to unsubscribe %s: %v", channel, err)
		}
	}
}

func (p *Pool) send(conn *websocket.Conn, op string, data any) error {
	ev, err := ws.NewEvent(op, data)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransient, op, err)
	}
	return nil
}

// sync round-trips a heartbeat. The server handles frames of a connection
// in order, so once the ack is back every earlier frame has been applied.
func (p *Pool) sync(ctx context.Context, conn *websocket.Conn) error {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	select {
	case <-p.acks:
	default:
	}

	if err := p.send(conn, ws.OpHeartbeat, nil); err != nil {
		return err
	}

	select {
	case <-p.acks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(writeWait):
		return fmt.Errorf("%w: heartbeat not acknowledged", ErrTransient)
	}
}

// readLoop owns conn's read side. Events are dispatched on this goroutine,
// in the order the server sent them; handlers must not block.
func (p *Pool) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			p.handleDisconnect(conn, err)
			return
		}

		var frame ws.Event
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[realtime] invalid frame: %v", err)
			continue
		}

		switch frame.Op {
		case ws.OpEvent:
			var ev docstore.Event
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				log.Printf("[realtime] invalid event frame: %v", err)
				continue
			}
			p.dispatch(ev)
		case ws.OpHeartbeatAck:
			select {
			case p.acks <- struct{}{}:
			default:
			}
		case ws.OpError:
			var data ws.ErrorData
			_ = json.Unmarshal(frame.Data, &data)
			log.Printf("[realtime] server rejected %s: %s", data.Op, data.Message)
		}
	}
}

// dispatch calls each handler subscribed to any of the event's channels once.
func (p *Pool) dispatch(ev docstore.Event) {
	p.mu.Lock()
	seen := make(map[uint64]struct{})
	var fns []func(docstore.Event)
	for _, ch := range ev.Channels {
		for id, fn := range p.handlers[ch] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// handleDisconnect starts at most one redial loop, and only for a
// connection that was lost rather than closed by release or Close.
func (p *Pool) handleDisconnect(conn *websocket.Conn, err error) {
	p.mu.Lock()
	if p.conn != conn {
		// Closed on purpose.
		p.mu.Unlock()
		return
	}
	p.conn = nil
	start := len(p.refs) > 0 && !p.closed && !p.reconnecting
	if start {
		p.reconnecting = true
	}
	p.mu.Unlock()

	log.Printf("[realtime] connection lost: %v", err)
	if start {
		go p.reconnectLoop()
	}
}

// reconnectLoop redials with exponential backoff, capped at
// maxReconnectDelay, until a dial succeeds or nothing is subscribed any
// more. The fresh dial carries every live channel, then the reconnect hooks
// run so listeners can refetch what was published in the gap.
func (p *Pool) reconnectLoop() {
	delay := minReconnectDelay
	for {
		<-p.clock.After(delay)

		p.mu.Lock()
		if p.closed || len(p.refs) == 0 || p.conn != nil {
			p.reconnecting = false
			p.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := p.connectLocked(ctx)
		cancel()
		if err == nil {
			p.reconnecting = false
			fns := make([]func(), 0, len(p.reconnectFns))
			for _, fn := range p.reconnectFns {
				fns = append(fns, fn)
			}
			p.mu.Unlock()

			log.Printf("[realtime] reconnected")
			for _, fn := range fns {
				fn()
			}
			return
		}
		p.mu.Unlock()

		log.Printf("[realtime] reconnect failed, retrying in %s: %v", delay, err)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
