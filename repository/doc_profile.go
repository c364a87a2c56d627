package repository

import (
	"context"
	"errors"

	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

type docProfileRepo struct {
	store docstore.Store
}

// NewDocProfileRepo creates a ProfileRepository over the document store.
func NewDocProfileRepo(store docstore.Store) ProfileRepository {
	return &docProfileRepo{store: store}
}

func (r *docProfileRepo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	doc, err := r.store.Get(ctx, models.CollectionProfiles, id)
	if err != nil {
		return nil, err
	}
	var profile models.Profile
	if err := doc.Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *docProfileRepo) Upsert(ctx context.Context, profile *models.Profile) error {
	data, err := docstore.ToData(profile)
	if err != nil {
		return err
	}
	// A cleared avatar must reach the stored document as a removal.
	if profile.AvatarURL == nil {
		data["avatarUrl"] = nil
	}

	_, err = r.store.Update(ctx, models.CollectionProfiles, profile.ID, data, docstore.UpdateOptions{})
	if errors.Is(err, pkg.ErrNotFound) {
		delete(data, "avatarUrl")
		if profile.AvatarURL != nil {
			data["avatarUrl"] = *profile.AvatarURL
		}
		_, err = r.store.Create(ctx, models.CollectionProfiles, profile.ID, data)
	}
	return err
}
