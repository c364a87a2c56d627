package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/akinalp/threadline/models"
)

// SetTyping sends the caller's typing state for scope.
func (c *Client) SetTyping(ctx context.Context, scope models.Scope, state string) error {
	req := models.TypingRequest{State: state}
	if scope.Kind == models.ScopeConversation {
		req.ConversationID = scope.ID
	} else {
		req.ChannelID = scope.ID
	}
	return c.do(ctx, http.MethodPut, "/v1/typing", nil, req, nil)
}

// GetProfile fetches a user's public profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(userID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile replaces the caller's profile.
func (c *Client) UpdateProfile(ctx context.Context, req *models.UpdateProfileRequest) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodPut, "/v1/profiles/me", nil, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
