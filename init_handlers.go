package main

import (
	"github.com/akinalp/threadline/handlers"
	"github.com/akinalp/threadline/pkg/ratelimit"
	"github.com/akinalp/threadline/ws"
)

// Handlers holds every HTTP handler.
type Handlers struct {
	Message *handlers.MessageHandler
	Pin     *handlers.PinHandler
	Typing  *handlers.TypingHandler
	Profile *handlers.ProfileHandler
	Health  *handlers.HealthHandler
	WS      *ws.Handler
}

func initHandlers(svcs *Services, limiter *ratelimit.MessageRateLimiter, hub *ws.Hub, db handlers.Pinger) *Handlers {
	return &Handlers{
		Message: handlers.NewMessageHandler(svcs.Message, svcs.Thread, svcs.Reaction, limiter),
		Pin:     handlers.NewPinHandler(svcs.Pin),
		Typing:  handlers.NewTypingHandler(svcs.Typing),
		Profile: handlers.NewProfileHandler(svcs.Profile),
		Health:  handlers.NewHealthHandler(db),
		WS:      ws.NewHandler(hub, svcs.Token),
	}
}
