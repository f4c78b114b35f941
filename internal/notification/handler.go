package notification

import (
	"net/http"
	"strconv"

	"teamchat/internal/apperr"
	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			httpx.WriteError(w, apperr.Validation("invalid limit %q", raw))
			return
		}
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := h.engine.List(r.Context(), userID, limit, unreadOnly)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	count, err := h.engine.UnreadCount(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.engine.MarkRead(r.Context(), userID, id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	n, err := h.engine.MarkAllRead(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.engine.Delete(r.Context(), userID, id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	n, err := h.engine.DeleteAll(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
