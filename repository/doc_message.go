package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

// docMessageRepo maps messages onto the document store. Channel and
// conversation messages live in separate collections, so every call takes
// the scope kind; Find is the one place that has to look in both.
//
// Top-level messages and thread replies share a collection and are told
// apart by threadId: a top-level listing filters on threadId IS NULL, a
// thread listing on threadId = root.
type docMessageRepo struct {
	store docstore.Store
}

// NewDocMessageRepo creates a MessageRepository over the document store.
func NewDocMessageRepo(store docstore.Store) MessageRepository {
	return &docMessageRepo{store: store}
}

// Create stores message under its own id and copies back the revision the
// store assigned, so the caller can pass it to a later conditional Update.
func (r *docMessageRepo) Create(ctx context.Context, kind models.ScopeKind, message *models.Message) error {
	data, err := docstore.ToData(message)
	if err != nil {
		return err
	}
	doc, err := r.store.Create(ctx, kind.Collection(), message.ID, data)
	if err != nil {
		return err
	}
	message.ID = doc.ID
	message.Revision = doc.Revision
	return nil
}

func (r *docMessageRepo) GetByID(ctx context.Context, kind models.ScopeKind, id string) (*models.Message, error) {
	doc, err := r.store.Get(ctx, kind.Collection(), id)
	if err != nil {
		return nil, err
	}
	return decodeMessage(doc)
}

// Find looks a message up without knowing its scope kind. Channels are
// tried first; only a not-found moves on to conversations, any other error
// is returned as is.
func (r *docMessageRepo) Find(ctx context.Context, id string) (*models.Message, models.ScopeKind, error) {
	for _, kind := range []models.ScopeKind{models.ScopeChannel, models.ScopeConversation} {
		msg, err := r.GetByID(ctx, kind, id)
		if err == nil {
			return msg, kind, nil
		}
		if !errors.Is(err, pkg.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("%w: message not found", pkg.ErrNotFound)
}

// ListTopLevel returns up to limit messages of scopeID that are not thread
// replies, newest first, strictly older than beforeID when it is set.
func (r *docMessageRepo) ListTopLevel(ctx context.Context, kind models.ScopeKind, scopeID, beforeID string, limit int) ([]models.Message, error) {
	return r.list(ctx, kind, docstore.Query{
		Equal:  map[string]any{"scopeId": scopeID},
		IsNull: []string{"threadId"},
		Before: beforeID,
		Desc:   true,
		Limit:  limit,
	})
}

// ListReplies returns the replies of rootID newest first. Callers reverse
// the page for display.
func (r *docMessageRepo) ListReplies(ctx context.Context, kind models.ScopeKind, rootID, beforeID string, limit int) ([]models.Message, error) {
	return r.list(ctx, kind, docstore.Query{
		Equal:  map[string]any{"threadId": rootID},
		Before: beforeID,
		Desc:   true,
		Limit:  limit,
	})
}

// CountReplies counts every reply of rootID, removed ones included, since
// a removed reply stays in the thread as a placeholder.
func (r *docMessageRepo) CountReplies(ctx context.Context, kind models.ScopeKind, rootID string) (int, error) {
	return r.store.Count(ctx, kind.Collection(), docstore.Query{Equal: map[string]any{"threadId": rootID}})
}

// Update applies patch. With ifRevision > 0 the write only succeeds when
// the document is still at that revision and fails with
// pkg.ErrConflict otherwise; the retry loops in services rely on it.
func (r *docMessageRepo) Update(ctx context.Context, kind models.ScopeKind, id string, patch map[string]any, ifRevision int64) (*models.Message, error) {
	doc, err := r.store.Update(ctx, kind.Collection(), id, patch, docstore.UpdateOptions{IfRevision: ifRevision})
	if err != nil {
		return nil, err
	}
	return decodeMessage(doc)
}

func (r *docMessageRepo) list(ctx context.Context, kind models.ScopeKind, q docstore.Query) ([]models.Message, error) {
	docs, err := r.store.List(ctx, kind.Collection(), q)
	if err != nil {
		return nil, err
	}
	messages := make([]models.Message, 0, len(docs))
	for i := range docs {
		msg, err := decodeMessage(&docs[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func decodeMessage(doc *docstore.Document) (*models.Message, error) {
	var msg models.Message
	if err := doc.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
