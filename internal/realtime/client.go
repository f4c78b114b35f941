package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// InboundHandler receives the frames a client sends that the session does
// not answer itself.
type InboundHandler interface {
	HandleInbound(ctx context.Context, c *Client, in Inbound)
}

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	InboundRPS     float64
	InboundBurst   int
	Inbound        InboundHandler
	// OnClose runs once, after the session has left every room.
	OnClose func()
}

// Client is one websocket session of a principal.
type Client struct {
	ID          string
	UserID      int64
	DisplayName string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	opts    Options
	onClose func()
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, displayName string, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	limit := rate.Inf
	if opts.InboundRPS > 0 {
		limit = rate.Limit(opts.InboundRPS)
	}
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, opts.SendBuffer),
		limiter:     rate.NewLimiter(limit, max(opts.InboundBurst, 1)),
		opts:        opts,
		onClose:     opts.OnClose,
	}
}

// ReadPump pumps frames from the websocket connection to the inbound handler.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: session %s read: %v", c.ID, err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.reply(EventError, map[string]string{"code": "RATE_LIMITED", "message": "slow down"})
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(EventError, map[string]string{"code": "VALIDATION_ERROR", "message": "frame is not valid JSON"})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	switch in.Type {
	case InboundPing:
		c.reply(EventPong, nil)
	default:
		if c.opts.Inbound == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		c.opts.Inbound.HandleInbound(ctx, c, in)
	}
}

// reply sends a frame to this session only.
func (c *Client) reply(event string, payload any) {
	frame := Event{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		frame.Payload = raw
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.hub.sendTo(c, data)
}

// Reply exposes reply to inbound handlers.
func (c *Client) Reply(event string, payload any) { c.reply(event, payload) }

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued frames in the same write, newline separated.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
