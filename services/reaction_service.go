package services

import (
	"context"
	"fmt"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

const operationReaction = "reaction_toggle"

// ReactionService toggles emoji reactions.
type ReactionService interface {
	Toggle(ctx context.Context, messageID, userID string, req *models.ToggleReactionRequest) (*models.Message, error)
}

type reactionService struct {
	messageRepo repository.MessageRepository
	retry       RetryPolicy
}

// NewReactionService creates the reaction service. The reaction map is a
// shared read-modify-write value, so it goes through the retry policy.
func NewReactionService(messageRepo repository.MessageRepository, retry RetryPolicy) ReactionService {
	return &reactionService{messageRepo: messageRepo, retry: retry}
}

func (s *reactionService) Toggle(ctx context.Context, messageID, userID string, req *models.ToggleReactionRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	var updated *models.Message
	err := s.retry.Run(ctx, operationReaction, func(ctx context.Context, attempt int) error {
		msg, kind, err := s.messageRepo.Find(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.IsRemoved() {
			return fmt.Errorf("%w: message was deleted", pkg.ErrBadRequest)
		}

		reactions, _ := models.ToggleReaction(msg.Reactions, req.Emoji, userID)
		var value any = reactions
		if len(reactions) == 0 {
			value = nil
		}

		updated, err = s.messageRepo.Update(ctx, kind, messageID, map[string]any{"reactions": value}, msg.Revision)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
