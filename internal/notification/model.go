package notification

import "time"

type Kind string

const (
	KindMention  Kind = "mention"
	KindDM       Kind = "dm"
	KindThread   Kind = "thread"
	KindReaction Kind = "reaction"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMention, KindDM, KindThread, KindReaction:
		return true
	}
	return false
}

// Reference points at the entity a notification is about.
type Reference struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

const (
	RefMessage       = "message"
	RefDirectMessage = "direct_message"
)

type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipientId"`
	Kind        Kind      `json:"kind"`
	Content     string    `json:"content"`
	Reference   Reference `json:"reference"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Request asks the engine to notify one recipient about an action of ActorID.
type Request struct {
	ActorID     int64
	RecipientID int64
	Kind        Kind
	Content     string
	Reference   Reference
	// AllowSelf lets the actor notify themselves (a self-DM).
	AllowSelf bool
}
