package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/pkg/metrics"
	"github.com/akinalp/threadline/repository"
)

// DefaultPinLimit is the number of live pins a context may hold.
const DefaultPinLimit = 50

// PinService pins and unpins messages.
type PinService interface {
	Pin(ctx context.Context, messageID, userID string) (*models.PinnedMessage, error)
	Unpin(ctx context.Context, messageID, userID string) error
	List(ctx context.Context, contextType, contextID string) ([]models.PinnedMessage, error)
}

type pinService struct {
	pinRepo     repository.PinRepository
	messageRepo repository.MessageRepository
	limit       int
	metrics     *metrics.Metrics
	clock       clock.Clock
}

// NewPinService creates the pin service.
func NewPinService(
	pinRepo repository.PinRepository,
	messageRepo repository.MessageRepository,
	limit int,
	m *metrics.Metrics,
	clk clock.Clock,
) PinService {
	if limit <= 0 {
		limit = DefaultPinLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	return &pinService{
		pinRepo:     pinRepo,
		messageRepo: messageRepo,
		limit:       limit,
		metrics:     m,
		clock:       clk,
	}
}

// Pin pins a message in the context it was posted in.
//
// Pinning an already pinned message returns the existing pin. The limit is
// check-then-act without retry: two racing pins may both pass the count, so
// the limit is soft by one per concurrent writer.
func (s *pinService) Pin(ctx context.Context, messageID, userID string) (*models.PinnedMessage, error) {
	msg, kind, err := s.messageRepo.Find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsThreadReply() {
		return nil, fmt.Errorf("%w: thread replies cannot be pinned", pkg.ErrBadRequest)
	}

	contextType := string(kind)
	pinID := models.PinID(contextType, msg.ScopeID, msg.ID)

	existing, err := s.pinRepo.GetByID(ctx, pinID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pkg.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pin: %w", err)
	}

	count, err := s.pinRepo.CountByContext(ctx, contextType, msg.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pins: %w", err)
	}
	if count >= s.limit {
		s.metrics.PinLimitRejected()
		return nil, fmt.Errorf("%w: pin limit reached (%d)", pkg.ErrConflict, s.limit)
	}

	pin := &models.PinnedMessage{
		ID:          pinID,
		ContextType: contextType,
		ContextID:   msg.ScopeID,
		MessageID:   msg.ID,
		PinnedBy:    userID,
		CreatedAt:   models.FormatTimestamp(s.clock.Now()),
	}
	if err := s.pinRepo.Create(ctx, pin); err != nil {
		if errors.Is(err, pkg.ErrAlreadyExists) {
			return s.pinRepo.GetByID(ctx, pinID)
		}
		return nil, fmt.Errorf("failed to pin message: %w", err)
	}
	return pin, nil
}

// Unpin removes the pin of a message. Unpinning a message that is not
// pinned succeeds.
func (s *pinService) Unpin(ctx context.Context, messageID, userID string) error {
	msg, kind, err := s.messageRepo.Find(ctx, messageID)
	if err != nil {
		return err
	}

	err = s.pinRepo.Delete(ctx, models.PinID(string(kind), msg.ScopeID, msg.ID))
	if err != nil && !errors.Is(err, pkg.ErrNotFound) {
		return fmt.Errorf("failed to unpin message: %w", err)
	}
	return nil
}

func (s *pinService) List(ctx context.Context, contextType, contextID string) ([]models.PinnedMessage, error) {
	if !models.ScopeKind(contextType).Valid() {
		return nil, fmt.Errorf("%w: contextType must be channel or conversation", pkg.ErrBadRequest)
	}
	if contextID == "" {
		return nil, fmt.Errorf("%w: contextId is required", pkg.ErrBadRequest)
	}
	return s.pinRepo.ListByContext(ctx, contextType, contextID)
}
