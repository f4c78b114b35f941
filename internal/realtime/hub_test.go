package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"teamchat/internal/apperr"
)

func newTestClient(h *Hub, userID int64, opts Options) *Client {
	c := NewClient(h, nil, userID, fmt.Sprintf("user-%d", userID), opts)
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Event{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame %s", frame)
		}
	default:
	}
}

func TestRegisterJoinsOwnUserRoom(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 7, Options{})

	if got := h.SubscriberCount(UserRoom(7)); got != 1 {
		t.Fatalf("user room subscribers = %d, want 1", got)
	}

	h.Publish(context.Background(), UserRoom(7), EventNotificationNew, map[string]int{"id": 1})
	ev := receive(t, c)
	if ev.Type != EventNotificationNew || ev.Room != UserRoom(7) {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 1, Options{})

	for i := 0; i < 3; i++ {
		if err := h.Subscribe(c, ChannelRoom(5)); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	if got := h.SubscriberCount(ChannelRoom(5)); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	h.Publish(context.Background(), ChannelRoom(5), EventMessageNew, "hi")
	receive(t, c)
	assertEmpty(t, c)

	h.Unsubscribe(c, ChannelRoom(5))
	h.Unsubscribe(c, ChannelRoom(5))
	if got := h.SubscriberCount(ChannelRoom(5)); got != 0 {
		t.Fatalf("subscribers after unsubscribe = %d, want 0", got)
	}
}

func TestSubscribeToForeignUserRoomForbidden(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 1, Options{})

	err := h.Subscribe(c, UserRoom(2))
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if err := h.Subscribe(c, Room("bogus")); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestPublishAfterEveryoneLeftIsNoop(t *testing.T) {
	h := NewHub(nil)
	u1 := newTestClient(h, 1, Options{})
	u2 := newTestClient(h, 2, Options{})
	room := ChannelRoom(9)
	_ = h.Subscribe(u1, room)
	_ = h.Subscribe(u2, room)

	h.Unregister(u1)
	h.Unregister(u2)

	if got := h.deliver(room, []byte(`{}`)); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
	h.Publish(context.Background(), room, EventMessageNew, map[string]string{"content": "anyone?"})
	if got := h.SubscriberCount(room); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
}

func TestUnregisterRemovesEveryRoomAndRunsHookOnce(t *testing.T) {
	h := NewHub(nil)
	closed := 0
	c := newTestClient(h, 3, Options{OnClose: func() { closed++ }})
	_ = h.Subscribe(c, ChannelRoom(1))
	_ = h.Subscribe(c, WorkspaceRoom(2))

	h.Unregister(c)
	h.Unregister(c)

	for _, room := range []Room{ChannelRoom(1), WorkspaceRoom(2), UserRoom(3)} {
		if got := h.SubscriberCount(room); got != 0 {
			t.Fatalf("%s subscribers = %d, want 0", room, got)
		}
	}
	if closed != 1 {
		t.Fatalf("OnClose ran %d times, want 1", closed)
	}
}

func TestSingleRoomFIFO(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 1, Options{SendBuffer: 200})
	room := ChannelRoom(4)
	_ = h.Subscribe(c, room)

	for i := 0; i < 100; i++ {
		h.Publish(context.Background(), room, EventMessageNew, i)
	}
	for i := 0; i < 100; i++ {
		ev := receive(t, c)
		var got int
		if err := json.Unmarshal(ev.Payload, &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got != i {
			t.Fatalf("frame %d carried %d", i, got)
		}
	}
}

func TestSlowSessionIsDropped(t *testing.T) {
	h := NewHub(nil)
	closed := make(chan struct{}, 1)
	slow := newTestClient(h, 1, Options{SendBuffer: 1, OnClose: func() { closed <- struct{}{} }})
	fast := newTestClient(h, 2, Options{SendBuffer: 10})
	room := ChannelRoom(8)
	_ = h.Subscribe(slow, room)
	_ = h.Subscribe(fast, room)

	h.Publish(context.Background(), room, EventMessageNew, 1)
	h.Publish(context.Background(), room, EventMessageNew, 2)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("slow session was not dropped")
	}
	if got := h.SubscriberCount(room); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
	receive(t, fast)
	receive(t, fast)
}

func TestJoinAndLeaveUserApplyToAllSessions(t *testing.T) {
	h := NewHub(nil)
	phone := newTestClient(h, 5, Options{})
	laptop := newTestClient(h, 5, Options{})
	other := newTestClient(h, 6, Options{})
	room := ChannelRoom(11)

	h.JoinUser(context.Background(), 5, room)
	if got := h.SubscriberCount(room); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	h.Publish(context.Background(), room, EventMessageNew, "hello")
	receive(t, phone)
	receive(t, laptop)
	assertEmpty(t, other)

	h.LeaveUser(context.Background(), 5, room)
	h.LeaveUser(context.Background(), 5, UserRoom(5))
	if got := h.SubscriberCount(room); got != 0 {
		t.Fatalf("subscribers after leave = %d, want 0", got)
	}
	if got := h.SubscriberCount(UserRoom(5)); got != 2 {
		t.Fatalf("user room subscribers = %d, want 2", got)
	}
}

func TestRedisBusDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInstance := func() *Hub {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		h := NewHub(client)
		if err := h.SubscribeToRedis(ctx); err != nil {
			t.Fatalf("SubscribeToRedis: %v", err)
		}
		return h
	}
	a := newInstance()
	b := newInstance()

	remote := newTestClient(b, 42, Options{SendBuffer: 64})
	room := ChannelRoom(3)

	// The join travels on the bus ahead of the events, so it is applied first.
	a.JoinUser(ctx, 42, room)
	for i := 0; i < 20; i++ {
		a.Publish(ctx, room, EventMessageNew, i)
	}

	for i := 0; i < 20; i++ {
		ev := receive(t, remote)
		var got int
		if err := json.Unmarshal(ev.Payload, &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got != i {
			t.Fatalf("frame %d carried %d", i, got)
		}
	}
}

func TestParseRoom(t *testing.T) {
	cases := []struct {
		raw     string
		kind    RoomKind
		id      int64
		wantErr bool
	}{
		{raw: "channel:12", kind: KindChannel, id: 12},
		{raw: "user:1", kind: KindUser, id: 1},
		{raw: "workspace:9", kind: KindWorkspace, id: 9},
		{raw: "team:1", wantErr: true},
		{raw: "channel:abc", wantErr: true},
		{raw: "channel", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			kind, id, err := ParseRoom(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseRoom(%q) succeeded, want error", tc.raw)
				}
				return
			}
			if err != nil || kind != tc.kind || id != tc.id {
				t.Fatalf("ParseRoom(%q) = %q, %d, %v", tc.raw, kind, id, err)
			}
		})
	}
}
