// Package presence tracks whether a principal is online. The status moves
// on explicit requests and on connection changes; connection counts are
// kept per principal so one dropped socket does not flip a user offline
// while another session is still live.
package presence

import (
	"context"
	"fmt"
	"log"
	"sync"

	"teamchat/internal/apperr"
	"teamchat/internal/realtime"
)

type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	DND     Status = "dnd"
	Offline Status = "offline"
)

// Initial is the status of a freshly registered principal.
const Initial = Offline

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case Online, Away, DND, Offline:
		return s, nil
	}
	return "", apperr.Validation("unknown status %q", raw)
}

type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventSet
)

type Event struct {
	Kind EventKind
	// Target is the requested status for EventSet.
	Target Status
	// Remaining is the number of live sessions after an EventDisconnect.
	Remaining int64
}

// Next is the transition function. Connecting only wakes an offline
// principal; away and dnd survive reconnects. Only losing the last session
// goes offline.
func Next(current Status, ev Event) Status {
	switch ev.Kind {
	case EventConnect:
		if current == Offline {
			return Online
		}
	case EventDisconnect:
		if ev.Remaining <= 0 {
			return Offline
		}
	case EventSet:
		return ev.Target
	}
	return current
}

type StatusStore interface {
	GetStatus(ctx context.Context, userID int64) (string, error)
	SetStatus(ctx context.Context, userID int64, status string) error
	WorkspaceIDs(ctx context.Context, userID int64) ([]int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, room realtime.Room, event string, payload any)
}

// Counter counts live sessions per principal.
type Counter interface {
	Incr(ctx context.Context, userID int64) (int64, error)
	Decr(ctx context.Context, userID int64) (int64, error)
}

type Update struct {
	UserID int64  `json:"userId"`
	Status Status `json:"status"`
}

type Tracker struct {
	counter Counter
	store   StatusStore
	pub     Publisher

	// Transitions of one principal are serialized on this instance.
	locksMu sync.Mutex
	locks   map[int64]*userLock
}

// userLock is dropped from Tracker.locks once nobody holds or waits on it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewTracker(counter Counter, store StatusStore, pub Publisher) *Tracker {
	return &Tracker{
		counter: counter,
		store:   store,
		pub:     pub,
		locks:   make(map[int64]*userLock),
	}
}

func (t *Tracker) lock(userID int64) func() {
	t.locksMu.Lock()
	l, ok := t.locks[userID]
	if !ok {
		l = &userLock{}
		t.locks[userID] = l
	}
	l.refs++
	t.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, userID)
		}
		t.locksMu.Unlock()
	}
}

// Connect records a new session.
func (t *Tracker) Connect(ctx context.Context, userID int64) (Status, error) {
	unlock := t.lock(userID)
	defer unlock()

	if _, err := t.counter.Incr(ctx, userID); err != nil {
		return "", fmt.Errorf("count connection: %w", err)
	}
	return t.transition(ctx, userID, Event{Kind: EventConnect})
}

// Disconnect records the end of a session.
func (t *Tracker) Disconnect(ctx context.Context, userID int64) (Status, error) {
	unlock := t.lock(userID)
	defer unlock()

	remaining, err := t.counter.Decr(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("count disconnection: %w", err)
	}
	return t.transition(ctx, userID, Event{Kind: EventDisconnect, Remaining: remaining})
}

// Set applies an explicit status request.
func (t *Tracker) Set(ctx context.Context, userID int64, raw string) (Status, error) {
	target, err := ParseStatus(raw)
	if err != nil {
		return "", err
	}
	unlock := t.lock(userID)
	defer unlock()
	return t.transition(ctx, userID, Event{Kind: EventSet, Target: target})
}

func (t *Tracker) transition(ctx context.Context, userID int64, ev Event) (Status, error) {
	raw, err := t.store.GetStatus(ctx, userID)
	if err != nil {
		return "", err
	}
	current, err := ParseStatus(raw)
	if err != nil {
		current = Offline
	}

	next := Next(current, ev)
	if next == current {
		return current, nil
	}
	if err := t.store.SetStatus(ctx, userID, string(next)); err != nil {
		return "", fmt.Errorf("store status: %w", err)
	}

	workspaces, err := t.store.WorkspaceIDs(ctx, userID)
	if err != nil {
		log.Printf("presence: list workspaces of user %d: %v", userID, err)
	}
	update := Update{UserID: userID, Status: next}
	t.pub.Publish(ctx, realtime.UserRoom(userID), realtime.EventPresenceUpdate, update)
	for _, id := range workspaces {
		t.pub.Publish(ctx, realtime.WorkspaceRoom(id), realtime.EventPresenceUpdate, update)
	}
	return next, nil
}
