// Package ws is the realtime push endpoint.
//
// A client connects to GET /v1/realtime, subscribes to document store
// channels ("databases.<db>.collections.<col>.documents") and receives every
// event published on them. One hub serves all connections; each connection
// runs a read pump and a write pump.
package ws

import (
	"encoding/json"

	"github.com/akinalp/threadline/docstore"
)

// Event is one frame on the websocket.
//
// Seq grows by one per frame sent by the hub so clients can notice gaps.
type Event struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// Client to server operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpHeartbeat   = "heartbeat"
)

// Server to client operations.
const (
	OpReady        = "ready"
	OpEvent        = "event"
	OpHeartbeatAck = "heartbeat_ack"
	OpError        = "error"
)

// SubscribeData is the payload of subscribe and unsubscribe.
type SubscribeData struct {
	Channels []string `json:"channels"`
}

// ReadyData is sent once after the upgrade.
type ReadyData struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Channels     []string `json:"channels"`
}

// EventData is the payload of an event frame.
type EventData = docstore.Event

// ErrorData reports a rejected client operation.
type ErrorData struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

// NewEvent encodes data into a frame.
func NewEvent(op string, data any) (Event, error) {
	if data == nil {
		return Event{Op: op}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Op: op, Data: raw}, nil
}
