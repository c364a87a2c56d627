package services

import (
	"context"
	"fmt"
	"log"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

// TypingService records the caller's typing state so other clients see it
// through the typing collection's events.
type TypingService interface {
	Set(ctx context.Context, userID string, req *models.TypingRequest) error
	// ClearUser stops every indicator of userID. It runs when the user's
	// last realtime connection drops, since a client that vanished never
	// sends its stop.
	ClearUser(ctx context.Context, userID string) error
}

type typingService struct {
	typingRepo repository.TypingRepository
	clock      clock.Clock
}

// NewTypingService creates the typing service.
func NewTypingService(typingRepo repository.TypingRepository, clk clock.Clock) TypingService {
	if clk == nil {
		clk = clock.New()
	}
	return &typingService{typingRepo: typingRepo, clock: clk}
}

func (s *typingService) Set(ctx context.Context, userID string, req *models.TypingRequest) error {
	scopeID := req.ScopeID()
	if scopeID == "" {
		return fmt.Errorf("%w: channelId or conversationId is required", pkg.ErrBadRequest)
	}

	switch req.State {
	case models.TypingStart:
		kind := models.ScopeChannel
		if req.ConversationID != "" {
			kind = models.ScopeConversation
		}
		return s.typingRepo.Upsert(ctx, kind, &models.TypingIndicator{
			UserID:    userID,
			ScopeID:   scopeID,
			UpdatedAt: models.FormatTimestamp(s.clock.Now()),
		})
	case models.TypingStop:
		return s.typingRepo.Delete(ctx, userID, scopeID)
	default:
		return fmt.Errorf("%w: state must be start or stop", pkg.ErrBadRequest)
	}
}

func (s *typingService) ClearUser(ctx context.Context, userID string) error {
	n, err := s.typingRepo.DeleteByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to clear typing for %s: %w", userID, err)
	}
	if n > 0 {
		log.Printf("[typing] cleared %d indicator(s) of disconnected user %s", n, userID)
	}
	return nil
}
