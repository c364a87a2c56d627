package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

func TestToggleReactionRetriesOnConflict(t *testing.T) {
	store := &flakyStore{Store: newTestDocStore(t)}
	repo := repository.NewDocMessageRepo(store)
	messages := NewMessageService(repo, 0, newSteppingClock())
	reactions := NewReactionService(repo, fastRetry())
	ctx := context.Background()

	msg := createRoot(t, messages, "u1", "c1", "react")
	store.failNextUpdates(msg.ID, 2)

	updated, err := reactions.Toggle(ctx, msg.ID, "u2", &models.ToggleReactionRequest{Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, updated.Reactions["👍"])
	assert.Equal(t, 2, store.rejected)

	updated, err = reactions.Toggle(ctx, msg.ID, "u2", &models.ToggleReactionRequest{Emoji: "👍"})
	require.NoError(t, err)
	assert.Empty(t, updated.Reactions)

	_, err = reactions.Toggle(ctx, msg.ID, "u2", &models.ToggleReactionRequest{})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	_, err = reactions.Toggle(ctx, "missing", "u2", &models.ToggleReactionRequest{Emoji: "👍"})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}
