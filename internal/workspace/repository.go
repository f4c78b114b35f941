package workspace

import (
	"context"
	"database/sql"
	"fmt"

	"teamchat/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateWorkspace stores the workspace with its owner and #general channel.
func (r *Repository) CreateWorkspace(ctx context.Context, name string, ownerID int64) (*Workspace, *Channel, error) {
	ws := &Workspace{Name: name, OwnerID: ownerID}
	general := &Channel{Name: GeneralChannel, CreatedBy: ownerID}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO workspaces (name, owner_id) VALUES ($1, $2) RETURNING id, created_at`,
			name, ownerID).Scan(&ws.ID, &ws.CreatedAt)
		if err != nil {
			return apperr.FromStore(err, "workspace")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)`,
			ws.ID, ownerID, string(RoleOwner)); err != nil {
			return apperr.FromStore(err, "workspace member")
		}
		general.WorkspaceID = ws.ID
		return insertChannel(ctx, tx, general)
	})
	if err != nil {
		return nil, nil, err
	}
	return ws, general, nil
}

func insertChannel(ctx context.Context, tx *sql.Tx, ch *Channel) error {
	err := tx.QueryRowContext(ctx, `
        INSERT INTO channels (workspace_id, name, topic, is_private, created_by)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		ch.WorkspaceID, ch.Name, ch.Topic, ch.IsPrivate, ch.CreatedBy).Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		return apperr.FromStore(err, "channel "+ch.Name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)`, ch.ID, ch.CreatedBy); err != nil {
		return apperr.FromStore(err, "channel member")
	}
	return nil
}

// AddWorkspaceMember adds userID and joins them to #general, whose id is
// returned.
func (r *Repository) AddWorkspaceMember(ctx context.Context, workspaceID, userID int64, role Role) (int64, error) {
	var generalID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)`,
			workspaceID, userID, string(role)); err != nil {
			return apperr.FromStore(err, "workspace member")
		}
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM channels WHERE workspace_id = $1 AND name = $2`,
			workspaceID, GeneralChannel).Scan(&generalID)
		if err != nil {
			return apperr.FromStore(err, "general channel")
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, generalID, userID)
		return err
	})
	return generalID, err
}

func (r *Repository) ListWorkspaces(ctx context.Context, userID int64) ([]Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT w.id, w.name, w.owner_id, w.created_at
        FROM workspaces w
        JOIN workspace_members m ON m.workspace_id = w.id
        WHERE m.user_id = $1
        ORDER BY w.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Workspace{}
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.OwnerID, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) CreateChannel(ctx context.Context, ch *Channel) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return insertChannel(ctx, tx, ch)
	})
}

const channelColumns = "c.id, c.workspace_id, c.name, c.topic, c.is_private, c.created_by, c.created_at"

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	ch := &Channel{}
	err := row.Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.Topic, &ch.IsPrivate, &ch.CreatedBy, &ch.CreatedAt)
	return ch, err
}

func (r *Repository) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	ch, err := scanChannel(r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels c WHERE c.id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err, "channel")
	}
	return ch, nil
}

// ListChannels returns the public channels of a workspace plus the private
// ones userID belongs to.
func (r *Repository) ListChannels(ctx context.Context, workspaceID, userID int64) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+channelColumns+`
        FROM channels c
        WHERE c.workspace_id = $1
          AND (NOT c.is_private OR EXISTS (
              SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = $2))
        ORDER BY c.name`, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (r *Repository) AddChannelMember(ctx context.Context, channelID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)`, channelID, userID)
	return apperr.FromStore(err, "channel member")
}

func (r *Repository) RemoveChannelMember(ctx context.Context, channelID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("user %d is not a member of channel %d", userID, channelID)
	}
	return nil
}

func (r *Repository) WorkspaceIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT workspace_id FROM workspace_members WHERE user_id = $1`, userID)
}

// ChannelIDs lists the channels userID is a member of.
func (r *Repository) ChannelIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT channel_id FROM channel_members WHERE user_id = $1`, userID)
}

func (r *Repository) ChannelMemberIDs(ctx context.Context, channelID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY user_id`, channelID)
}

func (r *Repository) ids(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) ChannelAccess(ctx context.Context, channelID int64) (int64, bool, error) {
	var workspaceID int64
	var private bool
	err := r.db.QueryRowContext(ctx,
		`SELECT workspace_id, is_private FROM channels WHERE id = $1`, channelID).Scan(&workspaceID, &private)
	if err != nil {
		return 0, false, apperr.FromStore(err, "channel")
	}
	return workspaceID, private, nil
}

func (r *Repository) IsChannelMember(ctx context.Context, userID, channelID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM channel_members WHERE user_id = $1 AND channel_id = $2)`, userID, channelID)
}

func (r *Repository) IsWorkspaceMember(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM workspace_members WHERE user_id = $1 AND workspace_id = $2)`, userID, workspaceID)
}

func (r *Repository) IsDMParticipant(ctx context.Context, userID, conversationID int64) (bool, error) {
	var found, member bool
	err := r.db.QueryRowContext(ctx, `
        SELECT TRUE, EXISTS(SELECT 1 FROM participants WHERE conversation_id = c.id AND user_id = $1)
        FROM conversations c WHERE c.id = $2`, userID, conversationID).Scan(&found, &member)
	if err != nil {
		return false, apperr.FromStore(err, "conversation")
	}
	return member, nil
}

func (r *Repository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
