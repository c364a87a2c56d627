package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/akinalp/threadline/models"
)

// TokenValidator verifies the token passed on the upgrade request.
// services.TokenService satisfies it; the narrow interface keeps ws free of
// the services package.
type TokenValidator interface {
	Validate(tokenString string) (*models.TokenClaims, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /v1/realtime.
type Handler struct {
	hub            *Hub
	tokenValidator TokenValidator
}

// NewHandler creates the upgrade handler.
func NewHandler(hub *Hub, tokenValidator TokenValidator) *Handler {
	return &Handler{hub: hub, tokenValidator: tokenValidator}
}

// HandleConnection authenticates, upgrades, registers the client, applies
// the initial ?channels= subscriptions and sends ready.
//
// Browsers cannot set headers on an upgrade, so the token comes either from
// the Authorization header or from ?token=.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokenValidator.Validate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	client := newClient(h.hub, conn, uuid.NewString(), claims.UserID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	var channels []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" && h.hub.Allowed(ch) {
			channels = append(channels, ch)
		}
	}

	// ready goes out before the first event frame.
	client.sendEvent(OpReady, ReadyData{
		ConnectionID: client.id,
		UserID:       claims.UserID,
		Channels:     channels,
	})
	if len(channels) > 0 {
		h.hub.Subscribe(client, channels)
	}

	go client.WritePump()
	client.ReadPump()
}
