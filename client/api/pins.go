package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/akinalp/threadline/models"
)

// Pin pins a top-level message. Pinning twice returns the existing pin.
func (c *Client) Pin(ctx context.Context, messageID string) (*models.PinnedMessage, error) {
	var out struct {
		Pin *models.PinnedMessage `json:"pin"`
	}
	if err := c.do(ctx, http.MethodPost, messagePath(messageID)+"/pin", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Pin, nil
}

// Unpin removes the pin of messageID.
func (c *Client) Unpin(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, messagePath(messageID)+"/pin", nil, nil, nil)
}

// ListPins returns the live pins of a context, newest first.
func (c *Client) ListPins(ctx context.Context, scope models.Scope) ([]models.PinnedMessage, error) {
	q := url.Values{"contextType": {string(scope.Kind)}, "contextId": {scope.ID}}
	var pins []models.PinnedMessage
	if err := c.do(ctx, http.MethodGet, "/v1/pins", q, nil, &pins); err != nil {
		return nil, err
	}
	return pins, nil
}
