package chat

import (
	"context"

	"teamchat/internal/notification"
	"teamchat/internal/pagination"
	"teamchat/internal/realtime"
	"teamchat/internal/view"
)

// StartConversation returns the conversation between actor and target,
// creating it on first use. Messaging yourself is allowed.
func (s *Service) StartConversation(ctx context.Context, actorID int64, req *StartConversationRequest) (*Conversation, error) {
	if req.UserID <= 0 {
		return nil, errMissingTarget
	}
	return s.store.FindOrCreateConversation(ctx, actorID, req.UserID)
}

func (s *Service) ListConversations(ctx context.Context, actorID int64) ([]Conversation, error) {
	return s.store.ListConversations(ctx, actorID)
}

// SendDM stores a direct message, notifies the other participant (or the
// actor for a self conversation) and pushes dm:new to every participant.
func (s *Service) SendDM(ctx context.Context, actorID, conversationID int64, req *PostMessageRequest) (*Message, error) {
	content, err := validateContent(req.Content, req.AttachmentURL)
	if err != nil {
		return nil, err
	}
	if req.ParentID != nil {
		return nil, errDMThread
	}
	if err := s.checkAttachment(actorID, req.AttachmentURL); err != nil {
		return nil, err
	}
	if err := s.oracle.CanViewDM(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	participants, err := s.store.ConversationParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ConversationID: conversationID,
		Author:         Author{ID: actorID},
		Content:        content,
		AttachmentURL:  req.AttachmentURL,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	msg.Reactions = []view.ReactionGroup{}

	self := len(participants) == 1
	ref := notification.Reference{ID: msg.ID, Type: notification.RefDirectMessage}
	var reqs []notification.Request
	for _, id := range participants {
		if id == actorID && !self {
			continue
		}
		reqs = append(reqs, notification.Request{
			ActorID:     actorID,
			RecipientID: id,
			Kind:        notification.KindDM,
			Content:     msg.Author.DisplayName + ": " + msg.Content,
			Reference:   ref,
			AllowSelf:   self,
		})
	}
	s.notify(ctx, reqs)

	for _, id := range participants {
		s.pub.Publish(ctx, realtime.UserRoom(id), realtime.EventDMNew, msg)
	}
	return msg, nil
}

// ListDMs pages through a conversation, oldest first within the page.
func (s *Service) ListDMs(ctx context.Context, actorID, conversationID int64, req pagination.Request) (pagination.Page[Message], error) {
	if err := s.oracle.CanViewDM(ctx, actorID, conversationID); err != nil {
		return pagination.Page[Message]{}, err
	}
	q, err := req.Resolve(ctx, s.cursorIn(func(m *Message) bool {
		return m.ConversationID == conversationID
	}))
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	rows, err := s.store.ListConversationMessages(ctx, conversationID, q)
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	if err := s.decorate(ctx, pointers(rows), false); err != nil {
		return pagination.Page[Message]{}, err
	}
	return pagination.Finish(rows, q), nil
}
