package handlers

import (
	"net/http"

	"github.com/akinalp/threadline/pkg"
	"github.com/akinalp/threadline/services"
)

// PinHandler serves pin endpoints.
type PinHandler struct {
	pinService services.PinService
}

// NewPinHandler creates the handler.
func NewPinHandler(pinService services.PinService) *PinHandler {
	return &PinHandler{pinService: pinService}
}

// List handles GET /v1/pins?contextType=&contextId=
func (h *PinHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pins, err := h.pinService.List(r.Context(), q.Get("contextType"), q.Get("contextId"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, pins)
}

// Pin handles POST /v1/messages/{id}/pin. 409 when the context is full.
func (h *PinHandler) Pin(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	pin, err := h.pinService.Pin(r.Context(), r.PathValue("id"), user.UserID)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]any{"pin": pin})
}

// Unpin handles DELETE /v1/messages/{id}/pin
func (h *PinHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.pinService.Unpin(r.Context(), r.PathValue("id"), user.UserID); err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, nil)
}
