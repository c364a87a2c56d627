package docstore

import (
	"encoding/json"
	"fmt"
)

// Event kinds, used as the last segment of an event name.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Event is a push notification about a document change.
//
// Events holds names like
// "databases.main.collections.messages.documents.<id>.create"; Channels holds
// every channel the event is delivered on.
type Event struct {
	Events    []string        `json:"events"`
	Channels  []string        `json:"channels"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// CollectionChannel is the subscription channel of a whole collection.
func CollectionChannel(databaseID, collection string) string {
	return fmt.Sprintf("databases.%s.collections.%s.documents", databaseID, collection)
}

// DocumentChannel is the subscription channel of a single document.
func DocumentChannel(databaseID, collection, id string) string {
	return CollectionChannel(databaseID, collection) + "." + id
}

// newEvent builds the event for a change of doc.
func newEvent(databaseID string, doc *Document, kind, timestamp string) (Event, error) {
	payload, err := json.Marshal(doc.Flatten())
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode event payload: %w", err)
	}

	collectionChannel := CollectionChannel(databaseID, doc.Collection)
	documentChannel := DocumentChannel(databaseID, doc.Collection, doc.ID)
	return Event{
		Events: []string{
			documentChannel + "." + kind,
			collectionChannel + ".*." + kind,
		},
		Channels:  []string{collectionChannel, documentChannel},
		Timestamp: timestamp,
		Payload:   payload,
	}, nil
}
