package chat

import (
	"time"

	"teamchat/internal/apperr"
	"teamchat/internal/view"
)

const maxContentLength = 4000

var (
	errMissingTarget = apperr.Validation("userId is required")
	errDMThread      = apperr.Validation("direct messages have no threads")
)

// Author is denormalized into every message payload so clients can render
// it without a follow-up fetch.
type Author struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Message is a channel message, thread reply or direct message. Exactly one
// of ChannelID and ConversationID is set.
type Message struct {
	ID             int64     `json:"id"`
	ChannelID      int64     `json:"channelId,omitempty"`
	ConversationID int64     `json:"conversationId,omitempty"`
	ParentID       *int64    `json:"parentId"`
	Author         Author    `json:"author"`
	Content        string    `json:"content"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty"`
	Edited         bool      `json:"edited"`
	CreatedAt      time.Time `json:"createdAt"`

	Reactions []view.ReactionGroup `json:"reactions"`
	// Thread is set on channel root messages only.
	Thread *view.ThreadSummary `json:"thread,omitempty"`
}

func (m *Message) IsReply() bool { return m.ParentID != nil }

type Conversation struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"` // 'private' or 'self'
	Participants []Author  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

const (
	ConversationPrivate = "private"
	ConversationSelf    = "self"
)

type PostMessageRequest struct {
	Content       string `json:"content"`
	ParentID      *int64 `json:"parentId,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type StartConversationRequest struct {
	UserID int64 `json:"userId"`
}

// Payloads of the realtime events this package publishes.

type MessageDeleted struct {
	ID             int64  `json:"id"`
	ChannelID      int64  `json:"channelId,omitempty"`
	ConversationID int64  `json:"conversationId,omitempty"`
	ParentID       *int64 `json:"parentId"`
}

type ReactionChanged struct {
	MessageID      int64                `json:"messageId"`
	ChannelID      int64                `json:"channelId,omitempty"`
	ConversationID int64                `json:"conversationId,omitempty"`
	UserID         int64                `json:"userId"`
	Emoji          string               `json:"emoji"`
	Reactions      []view.ReactionGroup `json:"reactions"`
}

type Typing struct {
	ChannelID   int64  `json:"channelId"`
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

type UnreadCount struct {
	ChannelID int64 `json:"channelId"`
	Count     int   `json:"count"`
}
