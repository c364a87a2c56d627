package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

// contextKey keeps request-context keys out of other packages' namespace.
type contextKey string

// UserContextKey carries the *models.TokenClaims of the caller.
const UserContextKey contextKey = "user"

// WithUser returns ctx carrying the verified claims.
func WithUser(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// currentUser returns the caller or writes a 401 and returns false.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, bool) {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok || claims == nil {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return nil, false
	}
	return claims, true
}

// scopeFromQuery reads channelId or conversationId.
func scopeFromQuery(r *http.Request) models.Scope {
	q := r.URL.Query()
	if id := q.Get("conversationId"); id != "" {
		return models.Scope{Kind: models.ScopeConversation, ID: id}
	}
	return models.Scope{Kind: models.ScopeChannel, ID: q.Get("channelId")}
}

// limitFromQuery parses ?limit, 0 when absent or invalid (services apply the default).
func limitFromQuery(r *http.Request) int {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
