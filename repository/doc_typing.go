package repository

import (
	"context"
	"errors"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

type docTypingRepo struct {
	store docstore.Store
}

// NewDocTypingRepo creates a TypingRepository over the document store.
func NewDocTypingRepo(store docstore.Store) TypingRepository {
	return &docTypingRepo{store: store}
}

// Upsert updates the existing document or creates it. Both paths emit an
// event, which is what remote clients consume.
func (r *docTypingRepo) Upsert(ctx context.Context, kind models.ScopeKind, indicator *models.TypingIndicator) error {
	id := models.TypingID(indicator.UserID, indicator.ScopeID)
	data, err := docstore.ToData(indicator)
	if err != nil {
		return err
	}
	data["scopeKind"] = string(kind)

	_, err = r.store.Update(ctx, models.CollectionTyping, id, data, docstore.UpdateOptions{})
	if errors.Is(err, pkg.ErrNotFound) {
		_, err = r.store.Create(ctx, models.CollectionTyping, id, data)
		if errors.Is(err, pkg.ErrAlreadyExists) {
			// Lost a create race with ourselves from another tab; the other write wins.
			return nil
		}
	}
	return err
}

func (r *docTypingRepo) Delete(ctx context.Context, userID, scopeID string) error {
	err := r.store.Delete(ctx, models.CollectionTyping, models.TypingID(userID, scopeID))
	if errors.Is(err, pkg.ErrNotFound) {
		return nil
	}
	return err
}

func (r *docTypingRepo) DeleteByUser(ctx context.Context, userID string) (int, error) {
	docs, err := r.store.List(ctx, models.CollectionTyping, docstore.Query{
		Equal: map[string]any{"userId": userID},
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		err := r.store.Delete(ctx, models.CollectionTyping, doc.ID)
		if errors.Is(err, pkg.ErrNotFound) {
			// Stopped by the client in the meantime.
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
