package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/services"
)

// TypingHandler serves PUT /v1/typing.
type TypingHandler struct {
	typingService services.TypingService
}

// NewTypingHandler creates the handler.
func NewTypingHandler(typingService services.TypingService) *TypingHandler {
	return &TypingHandler{typingService: typingService}
}

// Set records {channelId, state: "start"|"stop"} for the caller.
func (h *TypingHandler) Set(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.typingService.Set(r.Context(), user.UserID, &req); err != nil {
		pkg.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
