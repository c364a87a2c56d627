package repository

import (
	"context"

	"github.com/akinalp/threadline/models"
)

// PinRepository stores pins, one document per (context, message).
type PinRepository interface {
	Create(ctx context.Context, pin *models.PinnedMessage) error
	GetByID(ctx context.Context, id string) (*models.PinnedMessage, error)
	// ListByContext returns the pins of a context, newest first.
	ListByContext(ctx context.Context, contextType, contextID string) ([]models.PinnedMessage, error)
	CountByContext(ctx context.Context, contextType, contextID string) (int, error)
	Delete(ctx context.Context, id string) error
}
