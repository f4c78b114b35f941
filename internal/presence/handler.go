package presence

import (
	"net/http"

	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
)

type Handler struct {
	tracker *Tracker
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	status, err := h.tracker.Set(r.Context(), userID, req.Status)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, Update{UserID: userID, Status: status})
}
