// Package docstore is the document database every component talks to.
//
// The contract is deliberately small: get/list/count/create/update/delete on
// JSON documents grouped in collections, plus a push subscription per
// channel. Writes are atomic per document only. There is no multi-document
// transaction and no increment operator; the only concurrency primitive is
// the optional revision precondition on Update.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is a stored JSON object.
type Document struct {
	ID         string
	Collection string
	Revision   int64
	CreatedAt  string
	UpdatedAt  string
	Data       map[string]any
}

// Flatten returns the document data with "id" and "revision" set, which is
// the shape both API responses and push payloads use.
func (d *Document) Flatten() map[string]any {
	out := make(map[string]any, len(d.Data)+2)
	for k, v := range d.Data {
		out[k] = v
	}
	out["id"] = d.ID
	out["revision"] = d.Revision
	return out
}

// Decode unmarshals the flattened document into v.
func (d *Document) Decode(v any) error {
	raw, err := json.Marshal(d.Flatten())
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}

// ToData converts a struct into document data via its JSON form.
// "id" and "revision" are stripped; the store owns them.
func ToData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document data: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document data: %w", err)
	}
	delete(data, "id")
	delete(data, "revision")
	return data, nil
}

// Query filters and orders a List or Count.
//
// Results are ordered by the document's "createdAt" field, then by id.
// Before is an opaque cursor: the id of a document in the same collection.
// Only documents strictly past the cursor in the query's sort direction are
// returned, so with Desc it pages toward older documents and without it
// toward newer ones.
type Query struct {
	Equal   map[string]any
	IsNull  []string
	NotNull []string
	Before  string
	Desc    bool
	Limit   int
}

// UpdateOptions tunes an Update.
type UpdateOptions struct {
	// IfRevision rejects the update with pkg.ErrConflict unless the stored
	// revision still equals it. Zero disables the check.
	IfRevision int64
}

// Store is the document database client.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	Count(ctx context.Context, collection string, q Query) (int, error)
	// Create inserts a document. An empty id lets the store generate one.
	Create(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Update shallow-merges patch into the stored data.
	Update(ctx context.Context, collection, id string, patch map[string]any, opts UpdateOptions) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
	// Subscribe registers fn for events on channel and returns the unsubscribe func.
	Subscribe(channel string, fn func(Event)) (unsubscribe func())
}
