package repository

import (
	"context"

	"github.com/akinalp/threadline/models"
)

// ProfileRepository stores the public profiles used for message enrichment.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
}
