package workspace

import (
	"context"
	"regexp"
	"strings"

	"teamchat/internal/apperr"
	"teamchat/internal/realtime"
)

var channelNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,79}$`)

type Store interface {
	CreateWorkspace(ctx context.Context, name string, ownerID int64) (*Workspace, *Channel, error)
	AddWorkspaceMember(ctx context.Context, workspaceID, userID int64, role Role) (int64, error)
	ListWorkspaces(ctx context.Context, userID int64) ([]Workspace, error)
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id int64) (*Channel, error)
	ListChannels(ctx context.Context, workspaceID, userID int64) ([]Channel, error)
	AddChannelMember(ctx context.Context, channelID, userID int64) error
	RemoveChannelMember(ctx context.Context, channelID, userID int64) error
	IsWorkspaceMember(ctx context.Context, userID, workspaceID int64) (bool, error)
	WorkspaceIDs(ctx context.Context, userID int64) ([]int64, error)
	ChannelIDs(ctx context.Context, userID int64) ([]int64, error)
}

type Oracle interface {
	CanViewWorkspace(ctx context.Context, userID, workspaceID int64) error
	CanViewChannel(ctx context.Context, userID, channelID int64) error
	CanPostChannel(ctx context.Context, userID, channelID int64) error
}

// Router keeps live sessions in step with membership changes.
type Router interface {
	JoinUser(ctx context.Context, userID int64, room realtime.Room)
	LeaveUser(ctx context.Context, userID int64, room realtime.Room)
	Publish(ctx context.Context, room realtime.Room, event string, payload any)
}

type Service struct {
	repo   Store
	oracle Oracle
	router Router
}

func NewService(repo Store, oracle Oracle, router Router) *Service {
	return &Service{repo: repo, oracle: oracle, router: router}
}

func (s *Service) CreateWorkspace(ctx context.Context, actorID int64, req *CreateWorkspaceRequest) (*Workspace, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 80 {
		return nil, apperr.Validation("workspace name must be 1-80 characters")
	}
	ws, general, err := s.repo.CreateWorkspace(ctx, name, actorID)
	if err != nil {
		return nil, err
	}
	s.router.JoinUser(ctx, actorID, realtime.WorkspaceRoom(ws.ID))
	s.joinChannel(ctx, actorID, general)
	return ws, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, actorID int64) ([]Workspace, error) {
	return s.repo.ListWorkspaces(ctx, actorID)
}

// AddWorkspaceMember lets any member invite another user. The new member
// lands in #general.
func (s *Service) AddWorkspaceMember(ctx context.Context, actorID, workspaceID, userID int64) error {
	if err := s.oracle.CanViewWorkspace(ctx, actorID, workspaceID); err != nil {
		return err
	}
	generalID, err := s.repo.AddWorkspaceMember(ctx, workspaceID, userID, RoleMember)
	if err != nil {
		return err
	}
	s.router.JoinUser(ctx, userID, realtime.WorkspaceRoom(workspaceID))
	general, err := s.repo.GetChannel(ctx, generalID)
	if err != nil {
		return err
	}
	s.joinChannel(ctx, userID, general)
	return nil
}

func (s *Service) CreateChannel(ctx context.Context, actorID, workspaceID int64, req *CreateChannelRequest) (*Channel, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Name), "#"))
	if !channelNamePattern.MatchString(name) {
		return nil, apperr.Validation("channel name must be lowercase letters, digits, '-' or '_' (max 80)")
	}
	if err := s.oracle.CanViewWorkspace(ctx, actorID, workspaceID); err != nil {
		return nil, err
	}
	ch := &Channel{
		WorkspaceID: workspaceID,
		Name:        name,
		Topic:       strings.TrimSpace(req.Topic),
		IsPrivate:   req.IsPrivate,
		CreatedBy:   actorID,
	}
	if err := s.repo.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.joinChannel(ctx, actorID, ch)
	return ch, nil
}

func (s *Service) ListChannels(ctx context.Context, actorID, workspaceID int64) ([]Channel, error) {
	if err := s.oracle.CanViewWorkspace(ctx, actorID, workspaceID); err != nil {
		return nil, err
	}
	return s.repo.ListChannels(ctx, workspaceID, actorID)
}

func (s *Service) GetChannel(ctx context.Context, actorID, channelID int64) (*Channel, error) {
	if err := s.oracle.CanViewChannel(ctx, actorID, channelID); err != nil {
		return nil, err
	}
	return s.repo.GetChannel(ctx, channelID)
}

// AddChannelMember adds userID to a channel. Members may add other
// workspace members; anyone who can see a public channel may join it.
// The target's live sessions are subscribed before channel:added is sent,
// so no message published afterwards is missed.
func (s *Service) AddChannelMember(ctx context.Context, actorID, channelID, userID int64) (*Channel, error) {
	if actorID == userID {
		if err := s.oracle.CanViewChannel(ctx, actorID, channelID); err != nil {
			return nil, err
		}
	} else if err := s.oracle.CanPostChannel(ctx, actorID, channelID); err != nil {
		return nil, err
	}

	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.IsWorkspaceMember(ctx, userID, ch.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation("user %d is not a member of the workspace", userID)
	}

	if err := s.repo.AddChannelMember(ctx, channelID, userID); err != nil {
		return nil, err
	}
	s.joinChannel(ctx, userID, ch)
	return ch, nil
}

// RemoveChannelMember removes userID. Leaving is always allowed; removing
// someone else requires membership.
func (s *Service) RemoveChannelMember(ctx context.Context, actorID, channelID, userID int64) error {
	if actorID != userID {
		if err := s.oracle.CanPostChannel(ctx, actorID, channelID); err != nil {
			return err
		}
	}
	if err := s.repo.RemoveChannelMember(ctx, channelID, userID); err != nil {
		return err
	}
	s.router.LeaveUser(ctx, userID, realtime.ChannelRoom(channelID))
	s.router.Publish(ctx, realtime.UserRoom(userID), realtime.EventChannelRemoved, ChannelRemoved{ChannelID: channelID})
	return nil
}

func (s *Service) joinChannel(ctx context.Context, userID int64, ch *Channel) {
	s.router.JoinUser(ctx, userID, realtime.ChannelRoom(ch.ID))
	s.router.Publish(ctx, realtime.UserRoom(userID), realtime.EventChannelAdded, ch)
}

// Rooms lists every room a new session of userID starts in.
func (s *Service) Rooms(ctx context.Context, userID int64) ([]realtime.Room, error) {
	workspaces, err := s.repo.WorkspaceIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	channels, err := s.repo.ChannelIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]realtime.Room, 0, 1+len(workspaces)+len(channels))
	rooms = append(rooms, realtime.UserRoom(userID))
	for _, id := range workspaces {
		rooms = append(rooms, realtime.WorkspaceRoom(id))
	}
	for _, id := range channels {
		rooms = append(rooms, realtime.ChannelRoom(id))
	}
	return rooms, nil
}
