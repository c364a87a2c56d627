package repository

import (
	"context"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
)

type docPinRepo struct {
	store docstore.Store
}

// NewDocPinRepo creates a PinRepository over the document store.
func NewDocPinRepo(store docstore.Store) PinRepository {
	return &docPinRepo{store: store}
}

// Create fails with pkg.ErrAlreadyExists when the pin id is taken.
func (r *docPinRepo) Create(ctx context.Context, pin *models.PinnedMessage) error {
	data, err := docstore.ToData(pin)
	if err != nil {
		return err
	}
	doc, err := r.store.Create(ctx, models.CollectionPins, pin.ID, data)
	if err != nil {
		return err
	}
	pin.ID = doc.ID
	return nil
}

func (r *docPinRepo) GetByID(ctx context.Context, id string) (*models.PinnedMessage, error) {
	doc, err := r.store.Get(ctx, models.CollectionPins, id)
	if err != nil {
		return nil, err
	}
	var pin models.PinnedMessage
	if err := doc.Decode(&pin); err != nil {
		return nil, err
	}
	return &pin, nil
}

func (r *docPinRepo) ListByContext(ctx context.Context, contextType, contextID string) ([]models.PinnedMessage, error) {
	docs, err := r.store.List(ctx, models.CollectionPins, docstore.Query{
		Equal: contextFilter(contextType, contextID),
		Desc:  true,
	})
	if err != nil {
		return nil, err
	}

	pins := make([]models.PinnedMessage, 0, len(docs))
	for i := range docs {
		var pin models.PinnedMessage
		if err := docs[i].Decode(&pin); err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

func (r *docPinRepo) CountByContext(ctx context.Context, contextType, contextID string) (int, error) {
	return r.store.Count(ctx, models.CollectionPins, docstore.Query{Equal: contextFilter(contextType, contextID)})
}

func (r *docPinRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, models.CollectionPins, id)
}

func contextFilter(contextType, contextID string) map[string]any {
	return map[string]any{"contextType": contextType, "contextId": contextID}
}
