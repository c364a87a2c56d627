package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/akinalp/threadline/models"
)

type messageBody struct {
	Message *models.Message `json:"message"`
}

// ListMessages fetches one page of top-level messages older than cursor.
func (c *Client) ListMessages(ctx context.Context, scope models.Scope, cursor string, limit int) (*models.MessagePage, error) {
	var page models.MessagePage
	if err := c.do(ctx, http.MethodGet, "/v1/messages", pageQuery(scopeQuery(scope), cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetMessage fetches one message of any scope.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var out messageBody
	if err := c.do(ctx, http.MethodGet, messagePath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// CreateMessage posts a top-level message.
func (c *Client) CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	var out messageBody
	if err := c.do(ctx, http.MethodPost, "/v1/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// UpdateMessage replaces the text of the caller's message.
func (c *Client) UpdateMessage(ctx context.Context, id, text string) (*models.Message, error) {
	var out messageBody
	q := url.Values{"id": {id}}
	if err := c.do(ctx, http.MethodPatch, "/v1/messages", q, models.UpdateMessageRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// DeleteMessage soft deletes the caller's message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/messages", url.Values{"id": {id}}, nil, nil)
}

// GetThread fetches the root and one page of its replies.
func (c *Client) GetThread(ctx context.Context, rootID, cursor string, limit int) (*models.ThreadPage, error) {
	var page models.ThreadPage
	if err := c.do(ctx, http.MethodGet, messagePath(rootID)+"/thread", pageQuery(nil, cursor, limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateReply posts a reply into the thread of messageID. The server
// resolves the true root when messageID is itself a reply.
func (c *Client) CreateReply(ctx context.Context, messageID string, req *models.CreateReplyRequest) (*models.ReplyResult, error) {
	var out models.ReplyResult
	if err := c.do(ctx, http.MethodPost, messagePath(messageID)+"/thread", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleReaction adds or removes the caller's emoji reaction.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	var out messageBody
	body := models.ToggleReactionRequest{Emoji: emoji}
	if err := c.do(ctx, http.MethodPost, messagePath(messageID)+"/reactions", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}
