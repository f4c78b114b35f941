package realtime

import "encoding/json"

// Event types pushed to clients.
const (
	EventMessageNew    = "message:new"
	EventMessageUpdate = "message:update"
	EventMessageDelete = "message:delete"

	EventReactionAdd    = "reaction:add"
	EventReactionRemove = "reaction:remove"

	EventDMNew    = "dm:new"
	EventDMUpdate = "dm:update"
	EventDMDelete = "dm:delete"

	EventNotificationNew = "notification:new"

	EventChannelAdded   = "channel:added"
	EventChannelRemoved = "channel:removed"

	EventPresenceUpdate = "presence:update"
	EventTyping         = "typing"

	EventPong  = "pong"
	EventError = "error"
)

// Inbound frame types a client may send.
const (
	InboundPing   = "ping"
	InboundTyping = "typing"
)

// Event is the frame written to a websocket.
type Event struct {
	Type    string          `json:"type"`
	Room    Room            `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a frame read from a websocket.
type Inbound struct {
	Type    string          `json:"type"`
	Room    Room            `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// envelope travels on the bus between instances. Membership changes share
// the bus with events so a join is applied before any event published
// after it.
type envelope struct {
	Op      string          `json:"op"`
	Room    Room            `json:"room"`
	UserID  int64           `json:"userId,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	opEvent = "event"
	opJoin  = "join"
	opLeave = "leave"
)
