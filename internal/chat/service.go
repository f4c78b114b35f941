package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"teamchat/internal/apperr"
	"teamchat/internal/notification"
	"teamchat/internal/pagination"
	"teamchat/internal/realtime"
	"teamchat/internal/view"
)

type Store interface {
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	UpdateContent(ctx context.Context, id int64, content string) (*Message, error)
	DeleteMessage(ctx context.Context, id int64) error

	ListChannelMessages(ctx context.Context, channelID int64, q pagination.Query) ([]Message, error)
	ListReplies(ctx context.Context, parentID int64, q pagination.Query) ([]Message, error)
	ListConversationMessages(ctx context.Context, conversationID int64, q pagination.Query) ([]Message, error)

	ReactionsFor(ctx context.Context, messageIDs []int64) ([]view.ReactionRow, error)
	ThreadStats(ctx context.Context, rootIDs []int64) (map[int64]view.ThreadStats, error)
	ThreadParticipants(ctx context.Context, rootID int64) ([]int64, error)
	ReplyAttachments(ctx context.Context, rootID int64) ([]string, error)
	AddReaction(ctx context.Context, userID, messageID int64, emoji string) error
	RemoveReaction(ctx context.Context, userID, messageID int64, emoji string) error

	FindOrCreateConversation(ctx context.Context, a, b int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]Conversation, error)
	ConversationParticipants(ctx context.Context, conversationID int64) ([]int64, error)

	MarkChannelRead(ctx context.Context, userID, channelID int64) error
	UnreadCounts(ctx context.Context, userID int64) ([]UnreadCount, error)
}

type Oracle interface {
	CanViewChannel(ctx context.Context, userID, channelID int64) error
	CanPostChannel(ctx context.Context, userID, channelID int64) error
	CanViewDM(ctx context.Context, userID, conversationID int64) error
}

type MentionResolver interface {
	Resolve(ctx context.Context, channelID, authorID int64, text string) ([]int64, error)
}

type Notifier interface {
	FanOut(ctx context.Context, reqs []notification.Request) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, room realtime.Room, event string, payload any)
}

// Attachments vouches for uploaded files and removes the ones no message
// references anymore.
type Attachments interface {
	OwnsAttachment(url string, ownerID int64) bool
	Delete(ctx context.Context, url string) error
}

type Service struct {
	store       Store
	oracle      Oracle
	mentions    MentionResolver
	notifier    Notifier
	pub         Publisher
	attachments Attachments
}

func NewService(store Store, oracle Oracle, mentions MentionResolver, notifier Notifier, pub Publisher, attachments Attachments) *Service {
	return &Service{
		store:       store,
		oracle:      oracle,
		mentions:    mentions,
		notifier:    notifier,
		pub:         pub,
		attachments: attachments,
	}
}

func validateContent(content, attachmentURL string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachmentURL == "" {
		return "", apperr.Validation("message content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", apperr.Validation("message exceeds %d characters", maxContentLength)
	}
	return content, nil
}

// checkAttachment only accepts files the actor uploaded themselves.
func (s *Service) checkAttachment(actorID int64, url string) error {
	if url != "" && !s.attachments.OwnsAttachment(url, actorID) {
		return apperr.Validation("attachmentUrl must be a file you uploaded")
	}
	return nil
}

func validateEmoji(emoji string) error {
	if emoji == "" || len(emoji) > 64 || strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return apperr.Validation("invalid emoji %q", emoji)
	}
	return nil
}

// PostMessage stores a channel message or thread reply, notifies mentioned
// members and thread participants, and pushes message:new to the channel.
func (s *Service) PostMessage(ctx context.Context, actorID, channelID int64, req *PostMessageRequest) (*Message, error) {
	content, err := validateContent(req.Content, req.AttachmentURL)
	if err != nil {
		return nil, err
	}
	if err := s.checkAttachment(actorID, req.AttachmentURL); err != nil {
		return nil, err
	}
	if err := s.oracle.CanPostChannel(ctx, actorID, channelID); err != nil {
		return nil, err
	}
	if req.ParentID != nil {
		parent, err := s.store.GetMessage(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ChannelID != channelID {
			return nil, apperr.Validation("parent message belongs to another channel")
		}
		if parent.IsReply() {
			return nil, apperr.Validation("replies cannot be nested")
		}
	}

	msg := &Message{
		ChannelID:     channelID,
		ParentID:      req.ParentID,
		Author:        Author{ID: actorID},
		Content:       content,
		AttachmentURL: req.AttachmentURL,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	msg.Reactions = []view.ReactionGroup{}
	if !msg.IsReply() {
		msg.Thread = &view.ThreadSummary{}
	}

	s.notify(ctx, s.messageNotifications(ctx, msg))
	s.pub.Publish(ctx, realtime.ChannelRoom(channelID), realtime.EventMessageNew, msg)
	return msg, nil
}

// messageNotifications lists mentions first so a recipient who is both
// mentioned and following the thread gets the mention.
func (s *Service) messageNotifications(ctx context.Context, msg *Message) []notification.Request {
	var reqs []notification.Request
	ref := notification.Reference{ID: msg.ID, Type: notification.RefMessage}

	mentioned, err := s.mentions.Resolve(ctx, msg.ChannelID, msg.Author.ID, msg.Content)
	if err != nil {
		log.Printf("chat: resolve mentions in message %d: %v", msg.ID, err)
	}
	for _, id := range mentioned {
		reqs = append(reqs, notification.Request{
			ActorID:     msg.Author.ID,
			RecipientID: id,
			Kind:        notification.KindMention,
			Content:     msg.Author.DisplayName + " mentioned you: " + msg.Content,
			Reference:   ref,
		})
	}

	if msg.IsReply() {
		participants, err := s.store.ThreadParticipants(ctx, *msg.ParentID)
		if err != nil {
			log.Printf("chat: thread participants of %d: %v", *msg.ParentID, err)
		}
		for _, id := range participants {
			if s.oracle.CanViewChannel(ctx, id, msg.ChannelID) != nil {
				continue
			}
			reqs = append(reqs, notification.Request{
				ActorID:     msg.Author.ID,
				RecipientID: id,
				Kind:        notification.KindThread,
				Content:     msg.Author.DisplayName + " replied in a thread: " + msg.Content,
				Reference:   ref,
			})
		}
	}
	return reqs
}

// notify fans out and logs failures; they never fail the write.
func (s *Service) notify(ctx context.Context, reqs []notification.Request) {
	if len(reqs) == 0 {
		return
	}
	if _, err := s.notifier.FanOut(ctx, reqs); err != nil {
		log.Printf("chat: fan-out: %v", err)
	}
}

// ownMessage loads a message the actor authored and can still see.
func (s *Service) ownMessage(ctx context.Context, actorID, messageID int64) (*Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canObserve(ctx, actorID, msg); err != nil {
		return nil, err
	}
	if msg.Author.ID != actorID {
		return nil, apperr.Forbidden("only the author can change this message")
	}
	return msg, nil
}

// EditMessage changes the content of a channel message or DM. Edits do not
// notify anyone again.
func (s *Service) EditMessage(ctx context.Context, actorID, messageID int64, req *EditMessageRequest) (*Message, error) {
	current, err := s.ownMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	content, err := validateContent(req.Content, current.AttachmentURL)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.UpdateContent(ctx, messageID, content)
	if err != nil {
		return nil, err
	}
	if err := s.decorate(ctx, []*Message{msg}, msg.ChannelID != 0 && !msg.IsReply()); err != nil {
		return nil, err
	}
	s.publishAll(ctx, msg, eventFor(msg, realtime.EventMessageUpdate, realtime.EventDMUpdate), msg)
	return msg, nil
}

// DeleteMessage removes a channel message or DM. Replies and reactions go
// with it, and so do the uploaded attachments of the message and its
// replies.
func (s *Service) DeleteMessage(ctx context.Context, actorID, messageID int64) error {
	msg, err := s.ownMessage(ctx, actorID, messageID)
	if err != nil {
		return err
	}
	// Resolve DM rooms and reply attachments before the rows are gone.
	rooms, err := s.roomsOf(ctx, msg)
	if err != nil {
		return err
	}
	var replyFiles []string
	if msg.ChannelID != 0 && !msg.IsReply() {
		if replyFiles, err = s.store.ReplyAttachments(ctx, msg.ID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.removeAttachments(ctx, msg.ID, append(replyFiles, msg.AttachmentURL))

	event := eventFor(msg, realtime.EventMessageDelete, realtime.EventDMDelete)
	payload := MessageDeleted{
		ID:             msg.ID,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		ParentID:       msg.ParentID,
	}
	for _, room := range rooms {
		s.pub.Publish(ctx, room, event, payload)
	}
	return nil
}

func eventFor(msg *Message, channelEvent, dmEvent string) string {
	if msg.ChannelID != 0 {
		return channelEvent
	}
	return dmEvent
}

func (s *Service) removeAttachments(ctx context.Context, messageID int64, urls []string) {
	ctx = context.WithoutCancel(ctx)
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := s.attachments.Delete(ctx, url); err != nil {
			log.Printf("chat: remove attachment of message %d: %v", messageID, err)
		}
	}
}

// cursorIn resolves pagination cursors that name a message inside scope.
func (s *Service) cursorIn(scope func(*Message) bool) pagination.ResolverFunc {
	return func(ctx context.Context, id int64) (time.Time, error) {
		msg, err := s.store.GetMessage(ctx, id)
		if err != nil {
			return time.Time{}, err
		}
		if !scope(msg) {
			return time.Time{}, apperr.NotFound("cursor message %d not found", id)
		}
		return msg.CreatedAt, nil
	}
}

// ListMessages pages through the root messages of a channel.
func (s *Service) ListMessages(ctx context.Context, actorID, channelID int64, req pagination.Request) (pagination.Page[Message], error) {
	if err := s.oracle.CanViewChannel(ctx, actorID, channelID); err != nil {
		return pagination.Page[Message]{}, err
	}
	q, err := req.Resolve(ctx, s.cursorIn(func(m *Message) bool {
		return m.ChannelID == channelID && !m.IsReply()
	}))
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	rows, err := s.store.ListChannelMessages(ctx, channelID, q)
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	if err := s.decorate(ctx, pointers(rows), true); err != nil {
		return pagination.Page[Message]{}, err
	}
	return pagination.Finish(rows, q), nil
}

// ListReplies pages through the replies of a thread root.
func (s *Service) ListReplies(ctx context.Context, actorID, parentID int64, req pagination.Request) (pagination.Page[Message], error) {
	parent, err := s.store.GetMessage(ctx, parentID)
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	if parent.ChannelID == 0 || parent.IsReply() {
		return pagination.Page[Message]{}, apperr.NotFound("thread %d not found", parentID)
	}
	if err := s.oracle.CanViewChannel(ctx, actorID, parent.ChannelID); err != nil {
		return pagination.Page[Message]{}, err
	}
	q, err := req.Resolve(ctx, s.cursorIn(func(m *Message) bool {
		return m.ParentID != nil && *m.ParentID == parentID
	}))
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	rows, err := s.store.ListReplies(ctx, parentID, q)
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	if err := s.decorate(ctx, pointers(rows), false); err != nil {
		return pagination.Page[Message]{}, err
	}
	return pagination.Finish(rows, q), nil
}

func pointers(rows []Message) []*Message {
	out := make([]*Message, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

// decorate attaches grouped reactions and, for roots, thread summaries.
func (s *Service) decorate(ctx context.Context, msgs []*Message, threads bool) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	rows, err := s.store.ReactionsFor(ctx, ids)
	if err != nil {
		return err
	}
	grouped := view.GroupByMessage(rows)

	var stats map[int64]view.ThreadStats
	if threads {
		if stats, err = s.store.ThreadStats(ctx, ids); err != nil {
			return err
		}
	}

	for _, m := range msgs {
		m.Reactions = grouped[m.ID]
		if m.Reactions == nil {
			m.Reactions = []view.ReactionGroup{}
		}
		if threads {
			summary := stats[m.ID].Summary()
			m.Thread = &summary
		}
	}
	return nil
}

// canObserve checks read access to the channel or conversation of msg.
func (s *Service) canObserve(ctx context.Context, actorID int64, msg *Message) error {
	if msg.ChannelID != 0 {
		return s.oracle.CanViewChannel(ctx, actorID, msg.ChannelID)
	}
	return s.oracle.CanViewDM(ctx, actorID, msg.ConversationID)
}

// roomsOf returns where events about msg go: the channel room, or the user
// room of every participant of a conversation.
func (s *Service) roomsOf(ctx context.Context, msg *Message) ([]realtime.Room, error) {
	if msg.ChannelID != 0 {
		return []realtime.Room{realtime.ChannelRoom(msg.ChannelID)}, nil
	}
	participants, err := s.store.ConversationParticipants(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	rooms := make([]realtime.Room, len(participants))
	for i, id := range participants {
		rooms[i] = realtime.UserRoom(id)
	}
	return rooms, nil
}

func (s *Service) publishAll(ctx context.Context, msg *Message, event string, payload any) {
	rooms, err := s.roomsOf(ctx, msg)
	if err != nil {
		log.Printf("chat: rooms of message %d: %v", msg.ID, err)
		return
	}
	for _, room := range rooms {
		s.pub.Publish(ctx, room, event, payload)
	}
}

func (s *Service) reactionGroups(ctx context.Context, messageID int64) ([]view.ReactionGroup, error) {
	rows, err := s.store.ReactionsFor(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	return view.GroupReactions(rows), nil
}

// AddReaction records one reaction. A repeated (user, message, emoji) is a
// conflict. The message author is notified.
func (s *Service) AddReaction(ctx context.Context, actorID, messageID int64, req *ReactionRequest) ([]view.ReactionGroup, error) {
	if err := validateEmoji(req.Emoji); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canObserve(ctx, actorID, msg); err != nil {
		return nil, err
	}
	if err := s.store.AddReaction(ctx, actorID, messageID, req.Emoji); err != nil {
		return nil, err
	}

	groups, err := s.reactionGroups(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, []notification.Request{{
		ActorID:     actorID,
		RecipientID: msg.Author.ID,
		Kind:        notification.KindReaction,
		Content:     "reacted " + req.Emoji + " to: " + msg.Content,
		Reference:   notification.Reference{ID: msg.ID, Type: notification.RefMessage},
	}})
	s.publishAll(ctx, msg, realtime.EventReactionAdd, ReactionChanged{
		MessageID:      msg.ID,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		UserID:         actorID,
		Emoji:          req.Emoji,
		Reactions:      groups,
	})
	return groups, nil
}

func (s *Service) RemoveReaction(ctx context.Context, actorID, messageID int64, emoji string) ([]view.ReactionGroup, error) {
	if err := validateEmoji(emoji); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.canObserve(ctx, actorID, msg); err != nil {
		return nil, err
	}
	if err := s.store.RemoveReaction(ctx, actorID, messageID, emoji); err != nil {
		return nil, err
	}

	groups, err := s.reactionGroups(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.publishAll(ctx, msg, realtime.EventReactionRemove, ReactionChanged{
		MessageID:      msg.ID,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		UserID:         actorID,
		Emoji:          emoji,
		Reactions:      groups,
	})
	return groups, nil
}

func (s *Service) MarkChannelRead(ctx context.Context, actorID, channelID int64) error {
	if err := s.oracle.CanPostChannel(ctx, actorID, channelID); err != nil {
		return err
	}
	return s.store.MarkChannelRead(ctx, actorID, channelID)
}

func (s *Service) UnreadCounts(ctx context.Context, actorID int64) ([]UnreadCount, error) {
	return s.store.UnreadCounts(ctx, actorID)
}

// HandleInbound answers the frames a websocket session sends. Typing
// indicators are re-broadcast to the channel for members only.
func (s *Service) HandleInbound(ctx context.Context, c *realtime.Client, in realtime.Inbound) {
	switch in.Type {
	case realtime.InboundTyping:
		kind, channelID, err := realtime.ParseRoom(string(in.Room))
		if err != nil || kind != realtime.KindChannel {
			replyError(c, apperr.Validation("typing needs a channel room"))
			return
		}
		if err := s.oracle.CanPostChannel(ctx, c.UserID, channelID); err != nil {
			replyError(c, err)
			return
		}
		s.pub.Publish(ctx, in.Room, realtime.EventTyping, Typing{
			ChannelID:   channelID,
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
		})
	default:
		replyError(c, apperr.Validation("unknown frame type %q", in.Type))
	}
}

func replyError(c *realtime.Client, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		log.Printf("chat: inbound frame from user %d: %v", c.UserID, err)
		appErr = apperr.Internal(err, "internal error")
	}
	c.Reply(realtime.EventError, map[string]string{"code": string(appErr.Kind), "message": appErr.Message})
}
