package main

import (
	"net/http"

	"github.com/akinalp/threadline/middleware"
	"github.com/akinalp/threadline/pkg/metrics"
	"github.com/akinalp/threadline/services"
)

// initRoutes registers every endpoint. Literal paths are registered before
// parametric ones sharing a prefix.
func initRoutes(mux *http.ServeMux, h *Handlers, tokenService services.TokenService, m *metrics.Metrics) {
	authMw := middleware.NewAuthMiddleware(tokenService)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(http.HandlerFunc(handler))
	}

	// Messages
	mux.Handle("GET /v1/messages", auth(h.Message.List))
	mux.Handle("POST /v1/messages", auth(h.Message.Create))
	mux.Handle("PATCH /v1/messages", auth(h.Message.Update))
	mux.Handle("DELETE /v1/messages", auth(h.Message.Delete))
	mux.Handle("GET /v1/messages/{id}", auth(h.Message.Get))

	// Threads
	mux.Handle("GET /v1/messages/{id}/thread", auth(h.Message.GetThread))
	mux.Handle("POST /v1/messages/{id}/thread", auth(h.Message.CreateReply))

	// Reactions
	mux.Handle("POST /v1/messages/{id}/reactions", auth(h.Message.ToggleReaction))

	// Pins
	mux.Handle("GET /v1/pins", auth(h.Pin.List))
	mux.Handle("POST /v1/messages/{id}/pin", auth(h.Pin.Pin))
	mux.Handle("DELETE /v1/messages/{id}/pin", auth(h.Pin.Unpin))

	// Typing
	mux.Handle("PUT /v1/typing", auth(h.Typing.Set))

	// Profiles
	mux.Handle("PUT /v1/profiles/me", auth(h.Profile.UpdateMe))
	mux.Handle("GET /v1/profiles/{id}", auth(h.Profile.Get))

	// Realtime authenticates the upgrade request itself.
	mux.HandleFunc("GET /v1/realtime", h.WS.HandleConnection)

	mux.HandleFunc("GET /v1/health", h.Health.Check)
	mux.Handle("GET /metrics", m.Handler())
}
