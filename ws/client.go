package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent: three missed
	// 30s heartbeats.
	pongWait = 90 * time.Second

	// maxMessageSize caps inbound frames; clients only send small control ops.
	maxMessageSize = 4096

	// sendBufferSize is the per-connection outbound queue. A connection
	// that lets it fill up is dropped.
	sendBufferSize = 256
)

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID string
	send   chan []byte
	mu     sync.Mutex // serializes conn writes

	// channels is guarded by hub.mu.
	channels map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, id, userID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		id:       id,
		userID:   userID,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]struct{}),
	}
}

// ReadPump reads client operations until the connection fails, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[ws] failed to set read deadline for conn %s: %v", c.id, err)
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] unexpected close for conn %s: %v", c.id, err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("[ws] invalid frame from conn %s: %v", c.id, err)
			continue
		}
		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event Event) {
	switch event.Op {
	case OpHeartbeat:
		// The only frame that extends the read deadline. Subscribing or
		// receiving events does not count, so an idle client has to
		// heartbeat or it is dropped after pongWait.
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("[ws] failed to set read deadline for conn %s: %v", c.id, err)
			return
		}
		c.sendEvent(OpHeartbeatAck, nil)

	case OpSubscribe:
		var data SubscribeData
		if err := json.Unmarshal(event.Data, &data); err != nil || len(data.Channels) == 0 {
			c.sendEvent(OpError, ErrorData{Op: event.Op, Message: "channels required"})
			return
		}
		if rejected := c.hub.Subscribe(c, data.Channels); len(rejected) > 0 {
			c.sendEvent(OpError, ErrorData{Op: event.Op, Message: "channel not allowed: " + rejected[0]})
		}

	case OpUnsubscribe:
		var data SubscribeData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		c.hub.Unsubscribe(c, data.Channels)

	default:
		log.Printf("[ws] unknown op from conn %s: %s", c.id, event.Op)
	}
}

// sendEvent queues a frame without blocking. Frames built here carry no
// sequence number; only broadcast events are sequenced.
func (c *Client) sendEvent(op string, data any) {
	event, err := NewEvent(op, data)
	if err != nil {
		log.Printf("[ws] failed to encode %s for conn %s: %v", op, c.id, err)
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] failed to marshal %s for conn %s: %v", op, c.id, err)
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Printf("[ws] send buffer full for conn %s, dropping connection", c.id)
		go c.hub.Unregister(c)
	}
}

// WritePump writes queued frames until the hub closes the send channel.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.writeMessage(websocket.CloseMessage, nil)
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
