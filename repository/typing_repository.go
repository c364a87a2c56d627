package repository

import (
	"context"

	"github.com/akinalp/threadline/models"
)

// TypingRepository keeps one typing document per (user, scope).
type TypingRepository interface {
	Upsert(ctx context.Context, kind models.ScopeKind, indicator *models.TypingIndicator) error
	Delete(ctx context.Context, userID, scopeID string) error
	// DeleteByUser removes every typing document of userID and returns how
	// many were removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)
}
