package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

// Page size bounds for message listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// MessageService is the message business logic.
type MessageService interface {
	List(ctx context.Context, kind models.ScopeKind, scopeID, cursor string, limit int) (*models.MessagePage, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	Create(ctx context.Context, userID string, req *models.CreateMessageRequest) (*models.Message, error)
	Update(ctx context.Context, id, userID string, req *models.UpdateMessageRequest) (*models.Message, error)
	Delete(ctx context.Context, id, userID string) error
}

type messageService struct {
	messageRepo repository.MessageRepository
	maxLength   int
	clock       clock.Clock
}

// NewMessageService creates the message service. A nil clock means the wall clock.
func NewMessageService(messageRepo repository.MessageRepository, maxLength int, clk clock.Clock) MessageService {
	if clk == nil {
		clk = clock.New()
	}
	return &messageService{
		messageRepo: messageRepo,
		maxLength:   maxLength,
		clock:       clk,
	}
}

// List returns a page of top-level messages, oldest first.
// cursor is the id of the oldest message the caller already has.
func (s *messageService) List(ctx context.Context, kind models.ScopeKind, scopeID, cursor string, limit int) (*models.MessagePage, error) {
	if scopeID == "" {
		return nil, fmt.Errorf("%w: channelId or conversationId is required", pkg.ErrBadRequest)
	}
	limit = clampLimit(limit)

	// One extra row tells whether older messages exist.
	messages, err := s.messageRepo.ListTopLevel(ctx, kind, scopeID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	reverse(messages)

	return &models.MessagePage{Items: messages, HasMore: hasMore}, nil
}

func (s *messageService) Get(ctx context.Context, id string) (*models.Message, error) {
	msg, _, err := s.messageRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Create stores a new top-level message. The document store publishes the
// create event that every subscriber of the scope receives.
func (s *messageService) Create(ctx context.Context, userID string, req *models.CreateMessageRequest) (*models.Message, error) {
	if err := req.Validate(s.maxLength); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	kind := models.ScopeChannel
	if req.ConversationID != "" {
		kind = models.ScopeConversation
	}

	if req.ReplyToID != nil && *req.ReplyToID != "" {
		ref, err := s.messageRepo.GetByID(ctx, kind, *req.ReplyToID)
		if err != nil {
			if errors.Is(err, pkg.ErrNotFound) {
				return nil, fmt.Errorf("%w: referenced message not found", pkg.ErrBadRequest)
			}
			return nil, err
		}
		if ref.ScopeID != req.ScopeID() {
			return nil, fmt.Errorf("%w: referenced message is in another conversation", pkg.ErrBadRequest)
		}
	}

	message := &models.Message{
		ID:          uuid.NewString(),
		ScopeID:     req.ScopeID(),
		AuthorID:    userID,
		Text:        req.Text,
		CreatedAt:   models.FormatTimestamp(s.clock.Now()),
		ImageRef:    req.ImageRef,
		Attachments: req.Attachments,
		ReplyToID:   req.ReplyToID,
		Mentions:    req.Mentions,
	}

	if err := s.messageRepo.Create(ctx, kind, message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return message, nil
}

// Update edits the text. Only the author may edit, and removed messages
// cannot be edited.
func (s *messageService) Update(ctx context.Context, id, userID string, req *models.UpdateMessageRequest) (*models.Message, error) {
	if err := req.Validate(s.maxLength); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	msg, kind, err := s.messageRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != userID {
		return nil, fmt.Errorf("%w: only the author can edit this message", pkg.ErrForbidden)
	}
	if msg.IsRemoved() {
		return nil, fmt.Errorf("%w: message was deleted", pkg.ErrBadRequest)
	}

	return s.messageRepo.Update(ctx, kind, id, map[string]any{
		"text":     req.Text,
		"editedAt": models.FormatTimestamp(s.clock.Now()),
	}, 0)
}

// Delete soft deletes: the document stays so thread counters and reply
// previews keep pointing at something, but its content is cleared.
// Deleting twice is a no-op.
func (s *messageService) Delete(ctx context.Context, id, userID string) error {
	msg, kind, err := s.messageRepo.Find(ctx, id)
	if err != nil {
		return err
	}
	if msg.AuthorID != userID {
		return fmt.Errorf("%w: only the author can delete this message", pkg.ErrForbidden)
	}
	if msg.IsRemoved() {
		return nil
	}

	_, err = s.messageRepo.Update(ctx, kind, id, map[string]any{
		"removedAt":   models.FormatTimestamp(s.clock.Now()),
		"removedBy":   userID,
		"text":        "",
		"attachments": nil,
		"imageRef":    nil,
		"mentions":    nil,
	}, 0)
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func reverse(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
