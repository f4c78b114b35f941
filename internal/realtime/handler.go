package realtime

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
)

// RoomSource lists the rooms a new session starts in.
type RoomSource interface {
	Rooms(ctx context.Context, userID int64) ([]Room, error)
}

// Access decides whether a session of userID may observe room.
type Access interface {
	CanObserve(ctx context.Context, userID int64, room Room) error
}

// SessionHooks observe sessions coming and going. Either may be nil.
type SessionHooks struct {
	Connect    func(ctx context.Context, userID int64)
	Disconnect func(ctx context.Context, userID int64)
}

type Handler struct {
	hub    *Hub
	rooms  RoomSource
	access Access
	opts   Options
	hooks  SessionHooks
}

func NewHandler(hub *Hub, rooms RoomSource, access Access, opts Options, hooks SessionHooks) *Handler {
	return &Handler{hub: hub, rooms: rooms, access: access, opts: opts, hooks: hooks}
}

// ServeWs upgrades an authenticated request and subscribes the session to
// its user room and every workspace and channel room of the principal.
//
// The session is registered before its rooms are loaded, so JoinUser and
// LeaveUser calls racing the handshake reach it. Each room is joined first
// and confirmed afterwards: a revocation either finds the subscription or
// is already visible to the check.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade for user %d: %v", userID, err)
		return
	}

	opts := h.opts
	if h.hooks.Disconnect != nil {
		opts.OnClose = func() { h.hooks.Disconnect(context.Background(), userID) }
	}
	client := NewClient(h.hub, conn, userID, myMiddleware.DisplayName(r), opts)
	h.hub.Register(client)
	if h.hooks.Connect != nil {
		h.hooks.Connect(context.Background(), userID)
	}

	ctx := r.Context()
	rooms, err := h.rooms.Rooms(ctx, userID)
	if err != nil {
		log.Printf("realtime: rooms of user %d: %v", userID, err)
		h.hub.Unregister(client)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "try again"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	for _, room := range rooms {
		if err := h.hub.Subscribe(client, room); err != nil {
			log.Printf("realtime: session %s join %s: %v", client.ID, room, err)
			continue
		}
		if err := h.access.CanObserve(ctx, userID, room); err != nil {
			h.hub.Unsubscribe(client, room)
		}
	}

	go client.WritePump()
	go client.ReadPump()
}
