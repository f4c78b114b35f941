package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"teamchat/internal/apperr"
	"teamchat/internal/realtime"
)

func TestNext(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		ev      Event
		want    Status
	}{
		{"connect wakes offline", Offline, Event{Kind: EventConnect}, Online},
		{"connect keeps away", Away, Event{Kind: EventConnect}, Away},
		{"connect keeps dnd", DND, Event{Kind: EventConnect}, DND},
		{"last disconnect", Online, Event{Kind: EventDisconnect, Remaining: 0}, Offline},
		{"last disconnect from dnd", DND, Event{Kind: EventDisconnect}, Offline},
		{"other session alive", Online, Event{Kind: EventDisconnect, Remaining: 1}, Online},
		{"explicit away", Online, Event{Kind: EventSet, Target: Away}, Away},
		{"explicit online", DND, Event{Kind: EventSet, Target: Online}, Online},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Next(tc.current, tc.ev); got != tc.want {
				t.Fatalf("Next(%s) = %s, want %s", tc.current, got, tc.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("busy"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if s, err := ParseStatus("dnd"); err != nil || s != DND {
		t.Fatalf("ParseStatus(dnd) = %s, %v", s, err)
	}
}

type memStore struct {
	mu         sync.Mutex
	status     map[int64]string
	workspaces map[int64][]int64
}

func (m *memStore) GetStatus(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[userID]; ok {
		return s, nil
	}
	return string(Initial), nil
}

func (m *memStore) SetStatus(_ context.Context, userID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[userID] = status
	return nil
}

func (m *memStore) WorkspaceIDs(_ context.Context, userID int64) ([]int64, error) {
	return m.workspaces[userID], nil
}

type recorder struct {
	mu    sync.Mutex
	rooms []realtime.Room
}

func (r *recorder) Publish(_ context.Context, room realtime.Room, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event == realtime.EventPresenceUpdate {
		r.rooms = append(r.rooms, room)
	}
}

func newRedisTracker(t *testing.T) (*Tracker, *memStore, *recorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := &memStore{status: map[int64]string{}, workspaces: map[int64][]int64{7: {1, 2}}}
	rec := &recorder{}
	return NewTracker(NewRedisCounter(client), store, rec), store, rec
}

func TestTrackerMultipleSessions(t *testing.T) {
	tracker, store, rec := newRedisTracker(t)
	ctx := context.Background()

	if s, err := tracker.Connect(ctx, 7); err != nil || s != Online {
		t.Fatalf("first Connect = %s, %v", s, err)
	}
	if s, _ := tracker.Connect(ctx, 7); s != Online {
		t.Fatalf("second Connect = %s", s)
	}
	if s, _ := tracker.Disconnect(ctx, 7); s != Online {
		t.Fatalf("Disconnect with a live session = %s, want online", s)
	}
	if s, _ := tracker.Disconnect(ctx, 7); s != Offline {
		t.Fatalf("last Disconnect = %s, want offline", s)
	}
	if store.status[7] != string(Offline) {
		t.Fatalf("stored = %s", store.status[7])
	}

	// online then offline, each to the user room and two workspaces
	if len(rec.rooms) != 6 {
		t.Fatalf("updates = %v, want 6", rec.rooms)
	}
	want := []realtime.Room{realtime.UserRoom(7), realtime.WorkspaceRoom(1), realtime.WorkspaceRoom(2)}
	for i, room := range want {
		if rec.rooms[i] != room {
			t.Fatalf("rooms[%d] = %s, want %s", i, rec.rooms[i], room)
		}
	}
}

func TestTrackerKeepsExplicitStatusAcrossReconnect(t *testing.T) {
	tracker, _, rec := newRedisTracker(t)
	ctx := context.Background()

	tracker.Connect(ctx, 7)
	if s, err := tracker.Set(ctx, 7, "dnd"); err != nil || s != DND {
		t.Fatalf("Set = %s, %v", s, err)
	}
	tracker.Connect(ctx, 7)
	before := len(rec.rooms)
	if s, _ := tracker.Disconnect(ctx, 7); s != DND {
		t.Fatalf("Disconnect = %s, want dnd", s)
	}
	if len(rec.rooms) != before {
		t.Fatal("no-op transition published an update")
	}
	if _, err := tracker.Set(ctx, 7, "sleepy"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Set(sleepy) = %v, want validation", err)
	}
}

func TestSlowSessionDropDuringTransition(t *testing.T) {
	hub := realtime.NewHub(nil)
	store := &memStore{status: map[int64]string{}, workspaces: map[int64][]int64{}}
	tracker := NewTracker(NewLocalCounter(), store, hub)
	ctx := context.Background()

	disconnected := make(chan Status, 1)
	session := realtime.NewClient(hub, nil, 7, "user-7", realtime.Options{
		SendBuffer: 1,
		OnClose: func() {
			s, err := tracker.Disconnect(ctx, 7)
			if err != nil {
				t.Errorf("Disconnect: %v", err)
			}
			disconnected <- s
		},
	})
	hub.Register(session)

	// The online update fills the one-slot queue.
	if s, err := tracker.Connect(ctx, 7); err != nil || s != Online {
		t.Fatalf("Connect = %s, %v", s, err)
	}

	done := make(chan Status, 1)
	go func() {
		s, err := tracker.Set(ctx, 7, "away")
		if err != nil {
			t.Errorf("Set: %v", err)
		}
		done <- s
	}()
	select {
	case s := <-done:
		if s != Away {
			t.Fatalf("Set = %s, want away", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked while its update dropped the user's session")
	}

	select {
	case s := <-disconnected:
		if s != Offline {
			t.Fatalf("Disconnect = %s, want offline", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dropped session never disconnected")
	}
}

func TestTrackerForgetsIdleLocks(t *testing.T) {
	tracker, _, _ := newRedisTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			tracker.Connect(ctx, userID)
			tracker.Disconnect(ctx, userID)
		}(int64(i%4 + 1))
	}
	wg.Wait()

	tracker.locksMu.Lock()
	defer tracker.locksMu.Unlock()
	if n := len(tracker.locks); n != 0 {
		t.Fatalf("locks held for %d idle users, want 0", n)
	}
}

func TestRedisCounterNeverNegative(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	counter := NewRedisCounter(client)
	ctx := context.Background()

	if n, err := counter.Decr(ctx, 3); err != nil || n != 0 {
		t.Fatalf("Decr on empty = %d, %v", n, err)
	}
	if n, _ := counter.Incr(ctx, 3); n != 1 {
		t.Fatalf("Incr after stale Decr = %d, want 1", n)
	}
}

func TestRedisCounterSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	var counters []*RedisCounter
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		counters = append(counters, NewRedisCounter(client))
	}

	// Short sessions come and go on both instances while one long session
	// connects in the middle; the long one must still be counted at the end.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(c *RedisCounter) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.Incr(ctx, 9); err != nil {
					t.Error(err)
					return
				}
				if _, err := c.Decr(ctx, 9); err != nil {
					t.Error(err)
					return
				}
			}
		}(counters[i%2])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := counters[1].Incr(ctx, 9); err != nil {
			t.Error(err)
		}
	}()
	wg.Wait()

	if got := mr.HGet(connectionsKey, "9"); got != "1" {
		t.Fatalf("count after churn = %q, want 1", got)
	}
	if n, err := counters[0].Decr(ctx, 9); err != nil || n != 0 {
		t.Fatalf("last Decr = %d, %v, want 0", n, err)
	}
	if mr.Exists(connectionsKey) {
		t.Fatal("empty count left in the hash")
	}
}

func TestLocalCounter(t *testing.T) {
	counter := NewLocalCounter()
	ctx := context.Background()
	counter.Incr(ctx, 1)
	counter.Incr(ctx, 1)
	if n, _ := counter.Decr(ctx, 1); n != 1 {
		t.Fatalf("Decr = %d, want 1", n)
	}
	if n, _ := counter.Decr(ctx, 1); n != 0 {
		t.Fatalf("Decr = %d, want 0", n)
	}
	if n, _ := counter.Decr(ctx, 1); n != 0 {
		t.Fatalf("Decr below zero = %d, want 0", n)
	}
}
