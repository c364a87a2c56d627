package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/pkg/ratelimit"
	"github.com/akinalp/threadline/services"
)

// MessageHandler serves messages, threads and reactions.
type MessageHandler struct {
	messageService  services.MessageService
	threadService   services.ThreadService
	reactionService services.ReactionService
	limiter         *ratelimit.MessageRateLimiter
}

// NewMessageHandler creates the handler. limiter may be nil.
func NewMessageHandler(
	messageService services.MessageService,
	threadService services.ThreadService,
	reactionService services.ReactionService,
	limiter *ratelimit.MessageRateLimiter,
) *MessageHandler {
	return &MessageHandler{
		messageService:  messageService,
		threadService:   threadService,
		reactionService: reactionService,
		limiter:         limiter,
	}
}

// List handles GET /v1/messages?channelId=&cursor=&limit=
// Top-level messages only, oldest first within the page.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	page, err := h.messageService.List(r.Context(), scope.Kind, scope.ID, r.URL.Query().Get("cursor"), limitFromQuery(r))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, page)
}

// Get handles GET /v1/messages/{id}
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messageService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]any{"message": msg})
}

// Create handles POST /v1/messages
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !h.allow(w, user.UserID) {
		return
	}

	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.Create(r.Context(), user.UserID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// Update handles PATCH /v1/messages?id=
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "id is required")
		return
	}

	var req models.UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.Update(r.Context(), id, user.UserID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]any{"message": msg})
}

// Delete handles DELETE /v1/messages?id= (soft delete).
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.messageService.Delete(r.Context(), id, user.UserID); err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]any{})
}

// GetThread handles GET /v1/messages/{id}/thread?limit=&cursor=
func (h *MessageHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	page, err := h.threadService.GetThread(r.Context(), r.PathValue("id"), r.URL.Query().Get("cursor"), limitFromQuery(r))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, page)
}

// CreateReply handles POST /v1/messages/{id}/thread
func (h *MessageHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !h.allow(w, user.UserID) {
		return
	}

	var req models.CreateReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.threadService.CreateReply(r.Context(), r.PathValue("id"), user.UserID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusCreated, result)
}

// ToggleReaction handles POST /v1/messages/{id}/reactions
func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.ToggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.reactionService.Toggle(r.Context(), r.PathValue("id"), user.UserID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]any{"message": msg})
}

// allow applies the per-user flood guard and writes the 429 when it trips.
func (h *MessageHandler) allow(w http.ResponseWriter, userID string) bool {
	if h.limiter == nil || h.limiter.Allow(userID) {
		return true
	}
	retryAfter := h.limiter.CooldownSeconds(userID)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	pkg.Error(w, fmt.Errorf("%w: too many messages, retry in %d seconds", pkg.ErrRateLimited, retryAfter))
	return false
}
