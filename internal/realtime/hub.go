package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"teamchat/internal/apperr"
)

const (
	busChannel     = "teamchat:events"
	publishTimeout = 5 * time.Second
)

// Hub is the room registry and broadcast router. It maps each room to the
// sessions subscribed to it and keeps the reverse index so a session's
// teardown removes every subscription it holds.
//
// With a redis client every publish and membership change travels through
// one redis channel and is applied by a single subscriber loop, so all
// instances see them in the same order. Without redis they are applied
// in-process by the caller.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[Room]map[*Client]struct{}
	clients map[*Client]map[Room]struct{}
	users   map[int64]map[*Client]struct{}

	redis *redis.Client
}

// NewHub builds a hub. redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		rooms:   make(map[Room]map[*Client]struct{}),
		clients: make(map[*Client]map[Room]struct{}),
		users:   make(map[int64]map[*Client]struct{}),
		redis:   redisClient,
	}
}

// SubscribeToRedis subscribes to the bus and returns once the subscription
// is confirmed; envelopes are then applied in a background loop until ctx
// is cancelled. It is a no-op without redis.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	pubsub := h.redis.Subscribe(ctx, busChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					busErrors.Inc()
					log.Printf("realtime: decode bus message: %v", err)
					continue
				}
				h.apply(env)
			}
		}
	}()
	return nil
}

// Register adds a session and subscribes it to its principal's user room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return
	}
	h.clients[c] = make(map[Room]struct{})
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	h.subscribeLocked(c, UserRoom(c.UserID))
	h.mu.Unlock()

	sessionsConnected.Inc()
}

// Unregister removes every subscription of the session and closes its send
// queue. Calling it more than once is safe; the close hook runs once.
func (h *Hub) Unregister(c *Client) {
	if h.detach(c) && c.onClose != nil {
		c.onClose()
	}
}

// detach does the work of Unregister without the close hook and reports
// whether the session was still registered.
func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	rooms, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return false
	}
	for room := range rooms {
		h.removeLocked(c, room)
	}
	delete(h.clients, c)
	if sessions := h.users[c.UserID]; sessions != nil {
		delete(sessions, c)
		if len(sessions) == 0 {
			delete(h.users, c.UserID)
		}
	}
	close(c.send)
	h.mu.Unlock()

	sessionsConnected.Dec()
	return true
}

// Subscribe joins a session to a room. Joining a room twice is a no-op.
// A session may only ever observe its own user room.
func (h *Hub) Subscribe(c *Client, room Room) error {
	kind, id, err := ParseRoom(string(room))
	if err != nil {
		return apperr.Validation("%v", err)
	}
	if kind == KindUser && id != c.UserID {
		return apperr.Forbidden("cannot subscribe to another user's room")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return errors.New("session is not registered")
	}
	h.subscribeLocked(c, room)
	return nil
}

// Unsubscribe removes a session from a room. The session's own user room
// stays joined for as long as the session lives.
func (h *Hub) Unsubscribe(c *Client, room Room) {
	if room == UserRoom(c.UserID) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.removeLocked(c, room)
	}
}

// JoinUser subscribes every session of a principal, on every instance, to
// room. Used when authorization grows (e.g. added to a channel).
func (h *Hub) JoinUser(ctx context.Context, userID int64, room Room) {
	h.dispatch(ctx, envelope{Op: opJoin, Room: room, UserID: userID})
}

// LeaveUser is the inverse of JoinUser.
func (h *Hub) LeaveUser(ctx context.Context, userID int64, room Room) {
	h.dispatch(ctx, envelope{Op: opLeave, Room: room, UserID: userID})
}

// Publish delivers payload to every session currently subscribed to room.
// Delivery is best effort: nobody listening is not an error, and failures
// are logged rather than reported to the writer.
func (h *Hub) Publish(ctx context.Context, room Room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime: marshal %s payload for %s: %v", event, room, err)
		return
	}
	eventsPublished.WithLabelValues(event).Inc()
	h.dispatch(ctx, envelope{Op: opEvent, Room: room, Event: event, Payload: raw})
}

// SubscriberCount returns the number of local sessions in room.
func (h *Hub) SubscriberCount(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the rooms a session is subscribed to.
func (h *Hub) Rooms(c *Client) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]Room, 0, len(h.clients[c]))
	for room := range h.clients[c] {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) dispatch(ctx context.Context, env envelope) {
	if h.redis == nil {
		h.apply(env)
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("realtime: marshal envelope: %v", err)
		return
	}
	// The write that triggered this already happened; a caller going away
	// must not stop the fan-out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := h.redis.Publish(ctx, busChannel, data).Err(); err != nil {
		busErrors.Inc()
		log.Printf("realtime: redis publish %s to %s: %v", env.Op, env.Room, err)
	}
}

func (h *Hub) apply(env envelope) {
	switch env.Op {
	case opEvent:
		frame, err := json.Marshal(Event{Type: env.Event, Room: env.Room, Payload: env.Payload})
		if err != nil {
			log.Printf("realtime: marshal frame: %v", err)
			return
		}
		h.deliver(env.Room, frame)
	case opJoin:
		h.mu.Lock()
		for c := range h.users[env.UserID] {
			h.subscribeLocked(c, env.Room)
		}
		h.mu.Unlock()
	case opLeave:
		h.mu.Lock()
		for c := range h.users[env.UserID] {
			if env.Room != UserRoom(c.UserID) {
				h.removeLocked(c, env.Room)
			}
		}
		h.mu.Unlock()
	default:
		log.Printf("realtime: unknown bus op %q", env.Op)
	}
}

// deliver queues frame on every session in room. Sends happen under the
// read lock and queues are only closed under the write lock, so a send
// never races a close. Sessions whose queue is full are dropped; their
// close hooks run on their own goroutine because the publisher may hold
// locks those hooks need.
func (h *Hub) deliver(room Room, frame []byte) int {
	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	eventsDelivered.Add(float64(delivered))
	for _, c := range slow {
		log.Printf("realtime: dropping slow session %s of user %d", c.ID, c.UserID)
		sessionsDropped.Inc()
		if h.detach(c) && c.onClose != nil {
			go c.onClose()
		}
	}
	return delivered
}

// sendTo queues a frame for one session, if it is still registered.
func (h *Hub) sendTo(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) subscribeLocked(c *Client, room Room) {
	subs := h.rooms[room]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.rooms[room] = subs
	}
	subs[c] = struct{}{}
	h.clients[c][room] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, room Room) {
	if subs := h.rooms[room]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.clients[c], room)
}
