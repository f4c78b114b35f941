package workspace

import (
	"net/http"

	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req CreateWorkspaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	ws, err := h.service.CreateWorkspace(r.Context(), actorID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ws)
}

func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.service.ListWorkspaces(r.Context(), actorID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) AddWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	workspaceID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req AddMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.service.AddWorkspaceMember(r.Context(), actorID, workspaceID, req.UserID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	workspaceID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req CreateChannelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	ch, err := h.service.CreateChannel(r.Context(), actorID, workspaceID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ch)
}

func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	workspaceID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.service.ListChannels(r.Context(), actorID, workspaceID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	channelID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	ch, err := h.service.GetChannel(r.Context(), actorID, channelID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ch)
}

func (h *Handler) AddChannelMember(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	channelID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req AddMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	ch, err := h.service.AddChannelMember(r.Context(), actorID, channelID, req.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ch)
}

func (h *Handler) RemoveChannelMember(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	channelID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.service.RemoveChannelMember(r.Context(), actorID, channelID, userID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
