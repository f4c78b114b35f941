package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"teamchat/internal/apperr"
	"teamchat/internal/realtime"
)

const (
	maxContentLength = 280
	defaultListLimit = 50
	maxListLimit     = 100
)

var (
	notificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_notifications_created_total",
			Help: "Notifications persisted, by kind.",
		},
		[]string{"kind"},
	)
	notificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_notifications_failed_total",
			Help: "Per-recipient notification failures during fan-out.",
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsCreated, notificationsFailed)
}

type Store interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, recipientID int64, limit int, unreadOnly bool) ([]Notification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, recipientID, id int64) error
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	Delete(ctx context.Context, recipientID, id int64) error
	DeleteAll(ctx context.Context, recipientID int64) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, room realtime.Room, event string, payload any)
}

// Engine persists notifications and pushes them to the recipient's user
// room. The stored row is the source of truth; the push is best effort and
// never retried.
type Engine struct {
	store Store
	pub   Publisher
}

func NewEngine(store Store, pub Publisher) *Engine {
	return &Engine{store: store, pub: pub}
}

// Notify creates one notification. It returns (nil, nil) when the request
// is suppressed because the actor would notify themselves.
func (e *Engine) Notify(ctx context.Context, req Request) (*Notification, error) {
	if req.RecipientID == req.ActorID && !req.AllowSelf {
		return nil, nil
	}
	if !req.Kind.Valid() {
		return nil, apperr.Validation("unknown notification kind %q", req.Kind)
	}
	if req.RecipientID <= 0 || req.Reference.ID <= 0 || req.Reference.Type == "" {
		return nil, apperr.Validation("notification needs a recipient and a reference")
	}

	n := &Notification{
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		Content:     truncate(req.Content, maxContentLength),
		Reference:   req.Reference,
	}

	// The row must exist before the push goes out, and it must be written
	// even if the request that triggered it is gone.
	ctx = context.WithoutCancel(ctx)
	if err := e.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	notificationsCreated.WithLabelValues(string(n.Kind)).Inc()

	e.pub.Publish(ctx, realtime.UserRoom(n.RecipientID), realtime.EventNotificationNew, n)
	return n, nil
}

// FanOut notifies every recipient independently: one failure neither stops
// nor undoes the others. Requests for a recipient already seen in this call
// are dropped, so callers list the most specific kind first.
func (e *Engine) FanOut(ctx context.Context, reqs []Request) (int, error) {
	seen := make(map[int64]struct{}, len(reqs))
	created := 0
	var errs []error

	for _, req := range reqs {
		if _, dup := seen[req.RecipientID]; dup {
			continue
		}
		seen[req.RecipientID] = struct{}{}

		n, err := e.Notify(ctx, req)
		if err != nil {
			notificationsFailed.Inc()
			log.Printf("notification: %s for user %d failed: %v", req.Kind, req.RecipientID, err)
			errs = append(errs, fmt.Errorf("recipient %d: %w", req.RecipientID, err))
			continue
		}
		if n != nil {
			created++
		}
	}
	return created, errors.Join(errs...)
}

func (e *Engine) List(ctx context.Context, recipientID int64, limit int, unreadOnly bool) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		return nil, apperr.Validation("limit must be between 1 and %d", maxListLimit)
	}
	return e.store.List(ctx, recipientID, limit, unreadOnly)
}

func (e *Engine) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	return e.store.UnreadCount(ctx, recipientID)
}

func (e *Engine) MarkRead(ctx context.Context, recipientID, id int64) error {
	return e.store.MarkRead(ctx, recipientID, id)
}

func (e *Engine) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	return e.store.MarkAllRead(ctx, recipientID)
}

func (e *Engine) Delete(ctx context.Context, recipientID, id int64) error {
	return e.store.Delete(ctx, recipientID, id)
}

func (e *Engine) DeleteAll(ctx context.Context, recipientID int64) (int64, error) {
	return e.store.DeleteAll(ctx, recipientID)
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
