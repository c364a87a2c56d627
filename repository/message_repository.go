package repository

import (
	"context"

	"github.com/akinalp/threadline/models"
)

// MessageRepository reads and writes messages of both scope kinds.
//
// Listing is cursor based: beforeID returns only messages strictly older
// than that message (empty starts from the newest). Results come back
// newest first.
type MessageRepository interface {
	Create(ctx context.Context, kind models.ScopeKind, message *models.Message) error
	GetByID(ctx context.Context, kind models.ScopeKind, id string) (*models.Message, error)
	// Find looks the id up in every message collection.
	Find(ctx context.Context, id string) (*models.Message, models.ScopeKind, error)
	ListTopLevel(ctx context.Context, kind models.ScopeKind, scopeID, beforeID string, limit int) ([]models.Message, error)
	ListReplies(ctx context.Context, kind models.ScopeKind, rootID, beforeID string, limit int) ([]models.Message, error)
	CountReplies(ctx context.Context, kind models.ScopeKind, rootID string) (int, error)
	// Update applies patch; a non-zero ifRevision turns a concurrent write
	// into pkg.ErrConflict.
	Update(ctx context.Context, kind models.ScopeKind, id string, patch map[string]any, ifRevision int64) (*models.Message, error)
}
