package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vncsmyrnk/urna/internal/core/domain"
	"github.com/vncsmyrnk/urna/internal/core/ports"
)

type WindowHandler struct {
	service ports.WindowService
}

func NewWindowHandler(service ports.WindowService) *WindowHandler {
	return &WindowHandler{
		service: service,
	}
}

type windowResponse struct {
	ElectionID       uuid.UUID           `json:"election_id"`
	Status           domain.WindowStatus `json:"status"`
	OpenedAt         time.Time           `json:"opened_at"`
	ExpiresAt        time.Time           `json:"expires_at"`
	RemainingSeconds int64               `json:"remaining_seconds"`
}

// OpenWindow godoc
// @Summary      Opens or resumes the voter's ballot window
// @Tags         windows
// @Success      200
// @Failure      403,404,409,410
// @Router       /elections/{id}/window [get]
func (h *WindowHandler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	input, ok := h.windowInput(w, r)
	if !ok {
		return
	}

	window, err := h.service.Open(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponse(window))
}

// ResetWindow godoc
// @Summary      Abandons the current ballot window and opens a new one
// @Tags         windows
// @Success      200
// @Failure      403,404,409
// @Router       /elections/{id}/window/reset [post]
func (h *WindowHandler) ResetWindow(w http.ResponseWriter, r *http.Request) {
	input, ok := h.windowInput(w, r)
	if !ok {
		return
	}

	window, err := h.service.Reset(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponse(window))
}

// WindowStatus godoc
// @Summary      Reports remaining time of the voter's ballot window
// @Tags         windows
// @Success      200
// @Router       /elections/{id}/window/status [get]
func (h *WindowHandler) WindowStatus(w http.ResponseWriter, r *http.Request) {
	electionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid election id")
		return
	}
	voter, ok := voterID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing voter context"})
		return
	}

	state, err := h.service.Status(r.Context(), electionID, voter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *WindowHandler) windowInput(w http.ResponseWriter, r *http.Request) (ports.OpenWindowInput, bool) {
	electionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid election id")
		return ports.OpenWindowInput{}, false
	}
	voter, ok := voterID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing voter context"})
		return ports.OpenWindowInput{}, false
	}

	return ports.OpenWindowInput{
		ElectionID: electionID,
		VoterID:    voter,
		OriginAddr: originAddr(r),
		UserAgent:  r.UserAgent(),
	}, true
}

func toWindowResponse(window *ports.OpenedWindow) windowResponse {
	return windowResponse{
		ElectionID:       window.ElectionID,
		Status:           window.Status,
		OpenedAt:         window.OpenedAt,
		ExpiresAt:        window.ExpiresAt,
		RemainingSeconds: window.RemainingSeconds,
	}
}
