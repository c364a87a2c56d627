// Package realtime connects the client core to the server's push feed.
//
// Notifications are parsed into tagged store events at the boundary; nothing
// past Parse sees an untyped payload.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/akinalp/threadline/client/store"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
)

// ErrUnknownEvent is returned for notifications that carry no create, update
// or delete event name.
var ErrUnknownEvent = errors.New("realtime: unknown event kind")

// ErrTransient marks a failure of the realtime transport itself (dial,
// subscribe, dropped connection). Realtime is a liveness feature: callers
// log and swallow these, pagination still works without it.
var ErrTransient = errors.New("realtime: transient failure")

// KindOf classifies a notification by the suffix of its event names.
// Delete wins over update, update over create, when several are present.
func KindOf(events []string) (store.Kind, bool) {
	var kind store.Kind
	for _, ev := range events {
		switch {
		case strings.HasSuffix(ev, "."+docstore.KindDelete):
			return store.KindDelete, true
		case strings.HasSuffix(ev, "."+docstore.KindUpdate):
			kind = store.KindUpdate
		case strings.HasSuffix(ev, "."+docstore.KindCreate):
			if kind == 0 {
				kind = store.KindCreate
			}
		}
	}
	return kind, kind != 0
}

// Parse turns a message-collection notification into a store event. The
// Message is set for every kind; deletes carry the last known document.
func Parse(ev docstore.Event) (store.Event, error) {
	kind, ok := KindOf(ev.Events)
	if !ok {
		return store.Event{}, fmt.Errorf("%w: %v", ErrUnknownEvent, ev.Events)
	}

	var msg models.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		return store.Event{}, fmt.Errorf("realtime: invalid message payload: %w", err)
	}
	if msg.ID == "" {
		return store.Event{}, fmt.Errorf("realtime: message payload without id")
	}

	return store.Event{Kind: kind, Message: &msg, ID: msg.ID}, nil
}

// TypingNotification is a parsed typing-collection notification.
type TypingNotification struct {
	Indicator models.TypingIndicator
	// Stopped is true when the indicator document was deleted.
	Stopped bool
}

// ParseTyping turns a typing-collection notification into a presence update.
func ParseTyping(ev docstore.Event) (TypingNotification, error) {
	kind, ok := KindOf(ev.Events)
	if !ok {
		return TypingNotification{}, fmt.Errorf("%w: %v", ErrUnknownEvent, ev.Events)
	}

	var ind models.TypingIndicator
	if err := json.Unmarshal(ev.Payload, &ind); err != nil {
		return TypingNotification{}, fmt.Errorf("realtime: invalid typing payload: %w", err)
	}
	if ind.UserID == "" || ind.ScopeID == "" {
		return TypingNotification{}, fmt.Errorf("realtime: typing payload without user or scope")
	}

	return TypingNotification{Indicator: ind, Stopped: kind == store.KindDelete}, nil
}
