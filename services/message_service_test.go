package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

func newMessageService(t *testing.T) (MessageService, repository.MessageRepository) {
	repo := repository.NewDocMessageRepo(newTestDocStore(t))
	return NewMessageService(repo, models.DefaultMaxMessageLength, newSteppingClock()), repo
}

func TestMessageCreateValidation(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", &models.CreateMessageRequest{Text: "   ", ChannelID: "c1"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	_, err = svc.Create(ctx, "u1", &models.CreateMessageRequest{Text: strings.Repeat("x", 2001), ChannelID: "c1"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	_, err = svc.Create(ctx, "u1", &models.CreateMessageRequest{Text: "hi"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	ghost := "ghost"
	_, err = svc.Create(ctx, "u1", &models.CreateMessageRequest{Text: "hi", ChannelID: "c1", ReplyToID: &ghost})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	img := "img-1"
	msg, err := svc.Create(ctx, "u1", &models.CreateMessageRequest{ChannelID: "c1", ImageRef: &img})
	require.NoError(t, err)
	assert.Equal(t, "", msg.Text)
}

func TestMessageListPaginates(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, createRoot(t, svc, "u1", "c1", "m").ID)
	}
	createRoot(t, svc, "u1", "c2", "elsewhere")

	page, err := svc.List(ctx, models.ScopeChannel, "c1", "", 3)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 3)
	assert.Equal(t, ids[2:], messageIDs(page.Items), "newest page, oldest first")

	page, err = svc.List(ctx, models.ScopeChannel, "c1", page.Items[0].ID, 3)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, ids[:2], messageIDs(page.Items))
}

func TestMessageListExcludesThreadReplies(t *testing.T) {
	store := newTestDocStore(t)
	repo := repository.NewDocMessageRepo(store)
	clk := newSteppingClock()
	svc := NewMessageService(repo, 0, clk)
	threads := NewThreadService(repo, fastRetry(), 0, clk)
	ctx := context.Background()

	root := createRoot(t, svc, "u1", "c1", "root")
	_, err := threads.CreateReply(ctx, root.ID, "u2", &models.CreateReplyRequest{Text: "reply"})
	require.NoError(t, err)

	page, err := svc.List(ctx, models.ScopeChannel, "c1", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID}, messageIDs(page.Items))
}

func TestMessageUpdateAndSoftDelete(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()
	msg := createRoot(t, svc, "u1", "c1", "first")

	_, err := svc.Update(ctx, msg.ID, "u2", &models.UpdateMessageRequest{Text: "hijack"})
	assert.ErrorIs(t, err, pkg.ErrForbidden)

	updated, err := svc.Update(ctx, msg.ID, "u1", &models.UpdateMessageRequest{Text: " second "})
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Text)
	assert.NotNil(t, updated.EditedAt)

	assert.ErrorIs(t, svc.Delete(ctx, msg.ID, "u2"), pkg.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, msg.ID, "u1"))
	require.NoError(t, svc.Delete(ctx, msg.ID, "u1"), "deleting twice is a no-op")

	got, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRemoved())
	assert.Equal(t, "u1", *got.RemovedBy)
	assert.Empty(t, got.Text)

	_, err = svc.Update(ctx, msg.ID, "u1", &models.UpdateMessageRequest{Text: "again"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestConversationMessagesUseTheirOwnCollection(t *testing.T) {
	svc, repo := newMessageService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "u1", &models.CreateMessageRequest{Text: "dm", ConversationID: "d1"})
	require.NoError(t, err)

	_, kind, err := repo.Find(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeConversation, kind)

	page, err := svc.List(ctx, models.ScopeChannel, "d1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func messageIDs(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}
