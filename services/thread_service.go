package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/repository"
)

const operationThreadReply = "thread_reply"

// ThreadService reads threads and creates replies.
type ThreadService interface {
	GetThread(ctx context.Context, messageID, cursor string, limit int) (*models.ThreadPage, error)
	CreateReply(ctx context.Context, messageID, userID string, req *models.CreateReplyRequest) (*models.ReplyResult, error)
}

type threadService struct {
	messageRepo repository.MessageRepository
	retry       RetryPolicy
	maxLength   int
	clock       clock.Clock
}

// NewThreadService creates the thread service. The retry policy bounds the
// counter update loop of CreateReply.
func NewThreadService(messageRepo repository.MessageRepository, retry RetryPolicy, maxLength int, clk clock.Clock) ThreadService {
	if clk == nil {
		clk = clock.New()
	}
	if retry.Clock == nil {
		retry.Clock = clk
	}
	return &threadService{
		messageRepo: messageRepo,
		retry:       retry,
		maxLength:   maxLength,
		clock:       clk,
	}
}

// GetThread returns the root of the thread messageID belongs to and a page
// of its replies, oldest first. cursor is the oldest reply already loaded.
func (s *threadService) GetThread(ctx context.Context, messageID, cursor string, limit int) (*models.ThreadPage, error) {
	root, kind, err := s.resolveRoot(ctx, messageID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	replies, err := s.messageRepo.ListReplies(ctx, kind, root.ID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	hasMore := len(replies) > limit
	if hasMore {
		replies = replies[:limit]
	}
	reverse(replies)

	total, err := s.messageRepo.CountReplies(ctx, kind, root.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count replies: %w", err)
	}

	return &models.ThreadPage{
		ParentMessage: root,
		Replies:       replies,
		Total:         total,
		HasMore:       hasMore,
	}, nil
}

// CreateReply inserts a reply and bumps the root's thread counters.
//
// The store has no multi-document transaction and no increment, so the
// counter update is a read-modify-write guarded by the root's revision and
// retried with a fresh read. The reply id is fixed before the loop: the
// reply document is created at most once, and an attempt that finds it
// already present carries on with the counter update.
//
// When the budget runs out the error wraps pkg.ErrConcurrencyExhausted and
// the reply may exist without being counted.
func (s *threadService) CreateReply(ctx context.Context, messageID, userID string, req *models.CreateReplyRequest) (*models.ReplyResult, error) {
	if err := req.Validate(s.maxLength); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	root, kind, err := s.resolveRoot(ctx, messageID)
	if err != nil {
		return nil, err
	}

	reply := &models.Message{
		ID:          uuid.NewString(),
		ScopeID:     root.ScopeID,
		AuthorID:    userID,
		Text:        req.Text,
		CreatedAt:   models.FormatTimestamp(s.clock.Now()),
		ImageRef:    req.ImageRef,
		Attachments: req.Attachments,
		Mentions:    req.Mentions,
		ThreadID:    &root.ID,
	}
	if messageID != root.ID {
		// Replying to a reply: keep the quoted message as a back-reference.
		replyTo := messageID
		reply.ReplyToID = &replyTo
	}

	created := false
	err = s.retry.Run(ctx, operationThreadReply, func(ctx context.Context, attempt int) error {
		parent, err := s.messageRepo.GetByID(ctx, kind, root.ID)
		if err != nil {
			return err
		}

		if !created {
			err := s.messageRepo.Create(ctx, kind, reply)
			switch {
			case err == nil, errors.Is(err, pkg.ErrAlreadyExists):
				created = true
			default:
				return fmt.Errorf("failed to create reply: %w", err)
			}
		}

		participants := parent.ThreadParticipants
		if !slices.Contains(participants, userID) {
			participants = append(slices.Clone(participants), userID)
		}

		_, err = s.messageRepo.Update(ctx, kind, root.ID, map[string]any{
			"threadMessageCount": parent.ThreadMessageCount + 1,
			"threadParticipants": participants,
			"lastThreadReplyAt":  reply.CreatedAt,
		}, parent.Revision)
		if err != nil {
			return fmt.Errorf("failed to update thread counters: %w", err)
		}
		return nil
	})
	if err != nil {
		if created {
			log.Printf("[thread] reply %s stored but root %s counters not updated: %v", reply.ID, root.ID, err)
		}
		return nil, err
	}

	return &models.ReplyResult{Reply: reply, ThreadID: root.ID}, nil
}

// resolveRoot maps messageID to its thread root so threads never nest.
func (s *threadService) resolveRoot(ctx context.Context, messageID string) (*models.Message, models.ScopeKind, error) {
	msg, kind, err := s.messageRepo.Find(ctx, messageID)
	if err != nil {
		return nil, "", err
	}
	if !msg.IsThreadReply() {
		return msg, kind, nil
	}

	root, err := s.messageRepo.GetByID(ctx, kind, *msg.ThreadID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: thread root not found", pkg.ErrNotFound)
		}
		return nil, "", err
	}
	return root, kind, nil
}
