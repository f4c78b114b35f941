package workspace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"teamchat/internal/apperr"
	"teamchat/internal/membership"
	"teamchat/internal/realtime"
)

type memRepo struct {
	nextID     int64
	workspaces map[int64]*Workspace
	wsMembers  map[int64]map[int64]Role
	channels   map[int64]*Channel
	chMembers  map[int64]map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		workspaces: map[int64]*Workspace{},
		wsMembers:  map[int64]map[int64]Role{},
		channels:   map[int64]*Channel{},
		chMembers:  map[int64]map[int64]bool{},
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) CreateWorkspace(_ context.Context, name string, ownerID int64) (*Workspace, *Channel, error) {
	ws := &Workspace{ID: m.id(), Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	m.workspaces[ws.ID] = ws
	m.wsMembers[ws.ID] = map[int64]Role{ownerID: RoleOwner}
	general := &Channel{WorkspaceID: ws.ID, Name: GeneralChannel, CreatedBy: ownerID}
	if err := m.CreateChannel(context.Background(), general); err != nil {
		return nil, nil, err
	}
	return ws, general, nil
}

func (m *memRepo) AddWorkspaceMember(_ context.Context, workspaceID, userID int64, role Role) (int64, error) {
	members, ok := m.wsMembers[workspaceID]
	if !ok {
		return 0, apperr.NotFound("workspace not found")
	}
	if _, dup := members[userID]; dup {
		return 0, apperr.Conflict("workspace member already exists")
	}
	members[userID] = role
	for _, ch := range m.channels {
		if ch.WorkspaceID == workspaceID && ch.Name == GeneralChannel {
			m.chMembers[ch.ID][userID] = true
			return ch.ID, nil
		}
	}
	return 0, apperr.NotFound("general channel not found")
}

func (m *memRepo) ListWorkspaces(_ context.Context, userID int64) ([]Workspace, error) {
	var out []Workspace
	for id, members := range m.wsMembers {
		if _, ok := members[userID]; ok {
			out = append(out, *m.workspaces[id])
		}
	}
	return out, nil
}

func (m *memRepo) CreateChannel(_ context.Context, ch *Channel) error {
	for _, existing := range m.channels {
		if existing.WorkspaceID == ch.WorkspaceID && existing.Name == ch.Name {
			return apperr.Conflict("channel %s already exists", ch.Name)
		}
	}
	ch.ID = m.id()
	ch.CreatedAt = time.Now()
	m.channels[ch.ID] = ch
	m.chMembers[ch.ID] = map[int64]bool{ch.CreatedBy: true}
	return nil
}

func (m *memRepo) GetChannel(_ context.Context, id int64) (*Channel, error) {
	ch, ok := m.channels[id]
	if !ok {
		return nil, apperr.NotFound("channel not found")
	}
	return ch, nil
}

func (m *memRepo) ListChannels(_ context.Context, workspaceID, userID int64) ([]Channel, error) {
	var out []Channel
	for _, ch := range m.channels {
		if ch.WorkspaceID == workspaceID && (!ch.IsPrivate || m.chMembers[ch.ID][userID]) {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (m *memRepo) AddChannelMember(_ context.Context, channelID, userID int64) error {
	if m.chMembers[channelID][userID] {
		return apperr.Conflict("channel member already exists")
	}
	m.chMembers[channelID][userID] = true
	return nil
}

func (m *memRepo) RemoveChannelMember(_ context.Context, channelID, userID int64) error {
	if !m.chMembers[channelID][userID] {
		return apperr.NotFound("not a member")
	}
	delete(m.chMembers[channelID], userID)
	return nil
}

func (m *memRepo) IsWorkspaceMember(_ context.Context, userID, workspaceID int64) (bool, error) {
	_, ok := m.wsMembers[workspaceID][userID]
	return ok, nil
}

func (m *memRepo) WorkspaceIDs(_ context.Context, userID int64) ([]int64, error) {
	var out []int64
	for id, members := range m.wsMembers {
		if _, ok := members[userID]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memRepo) ChannelIDs(_ context.Context, userID int64) ([]int64, error) {
	var out []int64
	for id, members := range m.chMembers {
		if members[userID] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memRepo) ChannelAccess(_ context.Context, channelID int64) (int64, bool, error) {
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, false, apperr.NotFound("channel not found")
	}
	return ch.WorkspaceID, ch.IsPrivate, nil
}

func (m *memRepo) IsChannelMember(_ context.Context, userID, channelID int64) (bool, error) {
	return m.chMembers[channelID][userID], nil
}

func (m *memRepo) IsDMParticipant(context.Context, int64, int64) (bool, error) {
	return false, apperr.NotFound("conversation not found")
}

// router records membership changes and events in call order.
type router struct {
	calls []string
}

func (r *router) JoinUser(_ context.Context, userID int64, room realtime.Room) {
	r.calls = append(r.calls, fmt.Sprintf("join %d %s", userID, room))
}

func (r *router) LeaveUser(_ context.Context, userID int64, room realtime.Room) {
	r.calls = append(r.calls, fmt.Sprintf("leave %d %s", userID, room))
}

func (r *router) Publish(_ context.Context, room realtime.Room, event string, _ any) {
	r.calls = append(r.calls, fmt.Sprintf("publish %s %s", room, event))
}

func newService() (*Service, *memRepo, *router) {
	repo := newMemRepo()
	rt := &router{}
	return NewService(repo, membership.NewOracle(repo), rt), repo, rt
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCreateWorkspaceJoinsOwnerToGeneral(t *testing.T) {
	svc, repo, rt := newService()

	ws, err := svc.CreateWorkspace(context.Background(), 1, &CreateWorkspaceRequest{Name: " Acme "})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ws.Name != "Acme" {
		t.Fatalf("name = %q, want Acme", ws.Name)
	}
	generalID := ws.ID + 1
	if repo.channels[generalID].Name != GeneralChannel {
		t.Fatalf("channel %d = %+v, want #general", generalID, repo.channels[generalID])
	}
	assertCalls(t, rt.calls,
		"join 1 workspace:1",
		"join 1 channel:2",
		"publish user:1 channel:added",
	)
}

func TestAddChannelMemberJoinsBeforeNotifying(t *testing.T) {
	svc, _, rt := newService()
	ctx := context.Background()
	ws, _ := svc.CreateWorkspace(ctx, 1, &CreateWorkspaceRequest{Name: "Acme"})
	if err := svc.AddWorkspaceMember(ctx, 1, ws.ID, 2); err != nil {
		t.Fatalf("AddWorkspaceMember: %v", err)
	}
	ch, err := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "#Secret", IsPrivate: true})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.Name != "secret" {
		t.Fatalf("channel name = %q, want secret", ch.Name)
	}

	rt.calls = nil
	if _, err := svc.AddChannelMember(ctx, 1, ch.ID, 2); err != nil {
		t.Fatalf("AddChannelMember: %v", err)
	}
	assertCalls(t, rt.calls,
		fmt.Sprintf("join 2 channel:%d", ch.ID),
		"publish user:2 channel:added",
	)

	if _, err := svc.AddChannelMember(ctx, 1, ch.ID, 2); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("duplicate add = %v, want conflict", err)
	}
}

func TestAddChannelMemberRules(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	ws, _ := svc.CreateWorkspace(ctx, 1, &CreateWorkspaceRequest{Name: "Acme"})
	svc.AddWorkspaceMember(ctx, 1, ws.ID, 2)
	svc.AddWorkspaceMember(ctx, 1, ws.ID, 3)
	public, _ := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "random"})
	private, _ := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "ops", IsPrivate: true})

	cases := []struct {
		name    string
		actor   int64
		channel int64
		target  int64
		want    apperr.Kind
	}{
		{"self-join public", 2, public.ID, 2, ""},
		{"self-join private", 3, private.ID, 3, apperr.KindForbidden},
		{"non-member adds other", 3, public.ID, 2, apperr.KindForbidden},
		{"target outside workspace", 1, public.ID, 9, apperr.KindValidation},
		{"missing channel", 1, 999, 2, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddChannelMember(ctx, tc.actor, tc.channel, tc.target)
			if tc.want == "" && err != nil || tc.want != "" && !apperr.Is(err, tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestRemoveChannelMemberLeavesRoom(t *testing.T) {
	svc, _, rt := newService()
	ctx := context.Background()
	ws, _ := svc.CreateWorkspace(ctx, 1, &CreateWorkspaceRequest{Name: "Acme"})
	svc.AddWorkspaceMember(ctx, 1, ws.ID, 2)
	ch, _ := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "random"})
	svc.AddChannelMember(ctx, 2, ch.ID, 2)

	rt.calls = nil
	if err := svc.RemoveChannelMember(ctx, 2, ch.ID, 2); err != nil {
		t.Fatalf("leave: %v", err)
	}
	assertCalls(t, rt.calls,
		fmt.Sprintf("leave 2 channel:%d", ch.ID),
		"publish user:2 channel:removed",
	)
	if err := svc.RemoveChannelMember(ctx, 2, ch.ID, 1); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("non-member removal = %v, want forbidden", err)
	}
}

func TestCreateChannelValidation(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	ws, _ := svc.CreateWorkspace(ctx, 1, &CreateWorkspaceRequest{Name: "Acme"})

	if _, err := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "has space"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("bad name = %v, want validation", err)
	}
	if _, err := svc.CreateChannel(ctx, 1, ws.ID, &CreateChannelRequest{Name: "general"}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("duplicate = %v, want conflict", err)
	}
	if _, err := svc.CreateChannel(ctx, 9, ws.ID, &CreateChannelRequest{Name: "intruders"}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("outsider = %v, want forbidden", err)
	}
}

func TestRoomsForNewSession(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	ws, _ := svc.CreateWorkspace(ctx, 1, &CreateWorkspaceRequest{Name: "Acme"})

	rooms, err := svc.Rooms(ctx, 1)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	want := map[realtime.Room]bool{
		realtime.UserRoom(1):            true,
		realtime.WorkspaceRoom(ws.ID):   true,
		realtime.ChannelRoom(ws.ID + 1): true,
	}
	if len(rooms) != len(want) || rooms[0] != realtime.UserRoom(1) {
		t.Fatalf("rooms = %v", rooms)
	}
	for _, room := range rooms {
		if !want[room] {
			t.Fatalf("unexpected room %s", room)
		}
	}
}
