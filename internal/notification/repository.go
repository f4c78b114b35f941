package notification

import (
	"context"
	"database/sql"

	"teamchat/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (recipient_id, kind, content, reference_id, reference_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_read, created_at`
	err := r.db.QueryRowContext(ctx, query, n.RecipientID, string(n.Kind), n.Content, n.Reference.ID, n.Reference.Type).
		Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	return apperr.FromStore(err, "notification")
}

func (r *Repository) List(ctx context.Context, recipientID int64, limit int, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, recipient_id, kind, content, reference_id, reference_type, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, apperr.FromStore(err, "notifications")
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Content, &n.Reference.ID, &n.Reference.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *Repository) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID).Scan(&count)
	return count, apperr.FromStore(err, "notifications")
}

func (r *Repository) MarkRead(ctx context.Context, recipientID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	return affected(res, err)
}

func (r *Repository) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE`, recipientID)
	if err != nil {
		return 0, apperr.FromStore(err, "notifications")
	}
	return res.RowsAffected()
}

func (r *Repository) Delete(ctx context.Context, recipientID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	return affected(res, err)
}

func (r *Repository) DeleteAll(ctx context.Context, recipientID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, apperr.FromStore(err, "notifications")
	}
	return res.RowsAffected()
}

// affected turns "no row matched" into NotFound, which also covers rows that
// belong to another recipient.
func affected(res sql.Result, err error) error {
	if err != nil {
		return apperr.FromStore(err, "notification")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}
