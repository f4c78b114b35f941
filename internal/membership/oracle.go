// Package membership answers who may observe or write to which entity.
// Every check returns nil when allowed, a NotFound error when the entity
// does not exist and a Forbidden error otherwise.
package membership

import (
	"context"

	"teamchat/internal/apperr"
	"teamchat/internal/realtime"
)

// Store is the read side the oracle needs.
type Store interface {
	// ChannelAccess returns the owning workspace and privacy of a channel,
	// or a NotFound error.
	ChannelAccess(ctx context.Context, channelID int64) (workspaceID int64, private bool, err error)
	IsChannelMember(ctx context.Context, userID, channelID int64) (bool, error)
	IsWorkspaceMember(ctx context.Context, userID, workspaceID int64) (bool, error)
	// IsDMParticipant returns a NotFound error for an unknown conversation.
	IsDMParticipant(ctx context.Context, userID, conversationID int64) (bool, error)
}

type Oracle struct {
	store Store
}

func NewOracle(store Store) *Oracle {
	return &Oracle{store: store}
}

// CanViewChannel: a public channel is visible to every member of its
// workspace, a private one only to its members.
func (o *Oracle) CanViewChannel(ctx context.Context, userID, channelID int64) error {
	workspaceID, private, err := o.store.ChannelAccess(ctx, channelID)
	if err != nil {
		return err
	}

	ok, err := o.store.IsChannelMember(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !private {
		if ok, err = o.store.IsWorkspaceMember(ctx, userID, workspaceID); err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Forbidden("not allowed to view channel %d", channelID)
}

// CanPostChannel requires channel membership.
func (o *Oracle) CanPostChannel(ctx context.Context, userID, channelID int64) error {
	if _, _, err := o.store.ChannelAccess(ctx, channelID); err != nil {
		return err
	}
	ok, err := o.store.IsChannelMember(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a member of channel %d", channelID)
	}
	return nil
}

func (o *Oracle) CanViewDM(ctx context.Context, userID, conversationID int64) error {
	ok, err := o.store.IsDMParticipant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a participant of conversation %d", conversationID)
	}
	return nil
}

func (o *Oracle) CanViewWorkspace(ctx context.Context, userID, workspaceID int64) error {
	ok, err := o.store.IsWorkspaceMember(ctx, userID, workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a member of workspace %d", workspaceID)
	}
	return nil
}

// CanObserve decides whether a session of userID may join room.
func (o *Oracle) CanObserve(ctx context.Context, userID int64, room realtime.Room) error {
	kind, id, err := realtime.ParseRoom(string(room))
	if err != nil {
		return apperr.Validation("%v", err)
	}
	switch kind {
	case realtime.KindUser:
		if id != userID {
			return apperr.Forbidden("cannot observe another user's room")
		}
		return nil
	case realtime.KindChannel:
		return o.CanViewChannel(ctx, userID, id)
	case realtime.KindWorkspace:
		return o.CanViewWorkspace(ctx, userID, id)
	}
	return apperr.Validation("unknown room %q", room)
}
