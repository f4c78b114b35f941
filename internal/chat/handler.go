package chat

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"teamchat/internal/apperr"
	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
	"teamchat/internal/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// target reads the principal and the {id} URL parameter shared by most
// routes. It writes the error response itself.
func target(w http.ResponseWriter, r *http.Request) (actorID, id int64, ok bool) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return 0, 0, false
	}
	id, err = httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return 0, 0, false
	}
	return actorID, id, true
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	actorID, channelID, ok := target(w, r)
	if !ok {
		return
	}
	var req PostMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	msg, err := h.service.PostMessage(r.Context(), actorID, channelID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actorID, channelID, ok := target(w, r)
	if !ok {
		return
	}
	req, err := pagination.ParseRequest(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	page, err := h.service.ListMessages(r.Context(), actorID, channelID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) ListReplies(w http.ResponseWriter, r *http.Request) {
	actorID, parentID, ok := target(w, r)
	if !ok {
		return
	}
	req, err := pagination.ParseRequest(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	page, err := h.service.ListReplies(r.Context(), actorID, parentID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	actorID, messageID, ok := target(w, r)
	if !ok {
		return
	}
	var req EditMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	msg, err := h.service.EditMessage(r.Context(), actorID, messageID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	actorID, messageID, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteMessage(r.Context(), actorID, messageID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	actorID, messageID, ok := target(w, r)
	if !ok {
		return
	}
	var req ReactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	groups, err := h.service.AddReaction(r.Context(), actorID, messageID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, groups)
}

func (h *Handler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	actorID, messageID, ok := target(w, r)
	if !ok {
		return
	}
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	if err != nil {
		httpx.WriteError(w, apperr.Validation("invalid emoji"))
		return
	}
	groups, err := h.service.RemoveReaction(r.Context(), actorID, messageID, emoji)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, groups)
}

func (h *Handler) MarkChannelRead(w http.ResponseWriter, r *http.Request) {
	actorID, channelID, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkChannelRead(r.Context(), actorID, channelID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	counts, err := h.service.UnreadCounts(r.Context(), actorID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req StartConversationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	conv, err := h.service.StartConversation(r.Context(), actorID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	actorID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.service.ListConversations(r.Context(), actorID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) SendDM(w http.ResponseWriter, r *http.Request) {
	actorID, conversationID, ok := target(w, r)
	if !ok {
		return
	}
	var req PostMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	msg, err := h.service.SendDM(r.Context(), actorID, conversationID, &req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListDMs(w http.ResponseWriter, r *http.Request) {
	actorID, conversationID, ok := target(w, r)
	if !ok {
		return
	}
	req, err := pagination.ParseRequest(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	page, err := h.service.ListDMs(r.Context(), actorID, conversationID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}
