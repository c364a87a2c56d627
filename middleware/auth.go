// Package middleware holds the func(http.Handler) http.Handler layers that
// run before the handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/akinalp/threadline/handlers"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/services"
)

// AuthMiddleware verifies bearer tokens.
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenService: tokenService}
}

// Require rejects requests without a valid "Authorization: Bearer <token>"
// with 401 and puts the claims into the request context otherwise.
// The websocket endpoint authenticates on its own (ws.Handler).
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := m.tokenService.Validate(tokenString)
		if err != nil {
			pkg.Error(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(handlers.WithUser(r.Context(), claims)))
	})
}
