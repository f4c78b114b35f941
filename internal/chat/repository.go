package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"teamchat/internal/apperr"
	"teamchat/internal/pagination"
	"teamchat/internal/view"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// messageColumns reads a message aliased m joined to its sender aliased u.
const messageColumns = `m.id, COALESCE(m.channel_id, 0), COALESCE(m.conversation_id, 0), m.parent_id,
        m.sender_id, u.display_name, u.avatar_url, m.content, m.attachment_url, m.edited, m.created_at`

const messageFrom = ` FROM messages m JOIN users u ON u.id = m.sender_id`

// returningFrom reads the rows of a data-modifying CTE named m.
const returningFrom = ` FROM m JOIN users u ON u.id = m.sender_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	m := &Message{}
	var parent sql.NullInt64
	err := row.Scan(&m.ID, &m.ChannelID, &m.ConversationID, &parent,
		&m.Author.ID, &m.Author.DisplayName, &m.Author.AvatarURL,
		&m.Content, &m.AttachmentURL, &m.Edited, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		m.ParentID = &parent.Int64
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// CreateMessage inserts msg and fills in its id, timestamp and author.
func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	var parent any
	if msg.ParentID != nil {
		parent = *msg.ParentID
	}
	row := r.db.QueryRowContext(ctx, `
        WITH m AS (
            INSERT INTO messages (channel_id, conversation_id, parent_id, sender_id, content, attachment_url)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING *
        )
        SELECT `+messageColumns+returningFrom,
		nullID(msg.ChannelID), nullID(msg.ConversationID), parent, msg.Author.ID, msg.Content, msg.AttachmentURL)
	stored, err := scanMessage(row)
	if err != nil {
		return apperr.FromStore(err, "message")
	}
	*msg = *stored
	return nil
}

func (r *Repository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+messageFrom+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err, "message")
	}
	return m, nil
}

func (r *Repository) UpdateContent(ctx context.Context, id int64, content string) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `
        WITH m AS (
            UPDATE messages SET content = $2, edited = TRUE WHERE id = $1 RETURNING *
        )
        SELECT `+messageColumns+returningFrom, id, content)
	m, err := scanMessage(row)
	if err != nil {
		return nil, apperr.FromStore(err, "message")
	}
	return m, nil
}

// DeleteMessage removes a message; replies and reactions cascade.
func (r *Repository) DeleteMessage(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

func (r *Repository) page(ctx context.Context, where string, scopeID int64, q pagination.Query) ([]Message, error) {
	clause, args := q.Clause("m.created_at", "m.id", 2)
	query := `SELECT ` + messageColumns + messageFrom + ` WHERE ` + where + clause
	rows, err := r.db.QueryContext(ctx, query, append([]any{scopeID}, args...)...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListChannelMessages returns root messages of a channel in fetch order.
func (r *Repository) ListChannelMessages(ctx context.Context, channelID int64, q pagination.Query) ([]Message, error) {
	return r.page(ctx, `m.channel_id = $1 AND m.parent_id IS NULL`, channelID, q)
}

func (r *Repository) ListReplies(ctx context.Context, parentID int64, q pagination.Query) ([]Message, error) {
	return r.page(ctx, `m.parent_id = $1`, parentID, q)
}

func (r *Repository) ListConversationMessages(ctx context.Context, conversationID int64, q pagination.Query) ([]Message, error) {
	return r.page(ctx, `m.conversation_id = $1`, conversationID, q)
}

func (r *Repository) ReactionsFor(ctx context.Context, messageIDs []int64) ([]view.ReactionRow, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT message_id, user_id, emoji FROM reactions
        WHERE message_id = ANY($1)
        ORDER BY created_at, id`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []view.ReactionRow
	for rows.Next() {
		var row view.ReactionRow
		if err := rows.Scan(&row.MessageID, &row.UserID, &row.Emoji); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ThreadStats counts the replies of each root and finds the latest one.
// Roots without replies are absent from the result.
func (r *Repository) ThreadStats(ctx context.Context, rootIDs []int64) (map[int64]view.ThreadStats, error) {
	out := make(map[int64]view.ThreadStats)
	if len(rootIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT parent_id, COUNT(*), MAX(created_at) FROM messages
        WHERE parent_id = ANY($1)
        GROUP BY parent_id`, rootIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var parent int64
		var stats view.ThreadStats
		if err := rows.Scan(&parent, &stats.ReplyCount, &stats.LatestReplyAt); err != nil {
			return nil, err
		}
		out[parent] = stats
	}
	return out, rows.Err()
}

// ReplyAttachments lists the attachment URLs of a root's replies.
func (r *Repository) ReplyAttachments(ctx context.Context, rootID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT attachment_url FROM messages
        WHERE parent_id = $1 AND attachment_url <> ''`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, rows.Err()
}

// ThreadParticipants returns the root author and everyone who replied.
func (r *Repository) ThreadParticipants(ctx context.Context, rootID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT sender_id FROM messages WHERE id = $1
        UNION
        SELECT sender_id FROM messages WHERE parent_id = $1`, rootID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
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

func (r *Repository) AddReaction(ctx context.Context, userID, messageID int64, emoji string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)`, messageID, userID, emoji)
	return apperr.FromStore(err, "reaction")
}

func (r *Repository) RemoveReaction(ctx context.Context, userID, messageID int64, emoji string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`, messageID, userID, emoji)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("reaction not found")
	}
	return nil
}

// FindOrCreateConversation returns the one conversation between a and b,
// creating it on first use. a == b is a self conversation.
func (r *Repository) FindOrCreateConversation(ctx context.Context, a, b int64) (*Conversation, error) {
	kind := ConversationPrivate
	if a == b {
		kind = ConversationSelf
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
        INSERT INTO conversations (type, pair_key) VALUES ($1, $2)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING id`, kind, pairKey(a, b)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE pair_key = $1`, pairKey(a, b)).Scan(&id); err != nil {
			return nil, apperr.FromStore(err, "conversation")
		}
	case err != nil:
		return nil, err
	default:
		for _, userID := range participantsOf(a, b) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`, id, userID); err != nil {
				return nil, apperr.FromStore(err, "participant")
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return r.GetConversation(ctx, id)
}

func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func participantsOf(a, b int64) []int64 {
	if a == b {
		return []int64{a}
	}
	return []int64{a, b}
}

const conversationQuery = `
        SELECT c.id, c.type, c.created_at, u.id, u.display_name, u.avatar_url
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id
        JOIN users u ON u.id = p.user_id`

func (r *Repository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	rows, err := r.db.QueryContext(ctx, conversationQuery+` WHERE c.id = $1 ORDER BY u.id`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("conversation not found")
	}
	return &list[0], nil
}

// ListConversations returns the conversations of userID, newest first.
func (r *Repository) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := r.db.QueryContext(ctx, conversationQuery+`
        WHERE c.id IN (SELECT conversation_id FROM participants WHERE user_id = $1)
        ORDER BY c.id DESC, u.id`, userID)
	if err != nil {
		return nil, err
	}
	return scanConversations(rows)
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	defer rows.Close()
	out := []Conversation{}
	for rows.Next() {
		var (
			id        int64
			kind      string
			createdAt time.Time
			who       Author
		)
		if err := rows.Scan(&id, &kind, &createdAt, &who.ID, &who.DisplayName, &who.AvatarURL); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, Conversation{ID: id, Type: kind, CreatedAt: createdAt})
		}
		last := &out[len(out)-1]
		last.Participants = append(last.Participants, who)
	}
	return out, rows.Err()
}

func (r *Repository) ConversationParticipants(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = $1 ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (r *Repository) MarkChannelRead(ctx context.Context, userID, channelID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_members SET last_read_at = now() WHERE user_id = $1 AND channel_id = $2`, userID, channelID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("not a member of channel %d", channelID)
	}
	return nil
}

// UnreadCounts counts, per channel of userID, the root messages other
// members posted after the user last read it.
func (r *Repository) UnreadCounts(ctx context.Context, userID int64) ([]UnreadCount, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT cm.channel_id, COUNT(m.id)
        FROM channel_members cm
        LEFT JOIN messages m
               ON m.channel_id = cm.channel_id
              AND m.parent_id IS NULL
              AND m.sender_id <> cm.user_id
              AND m.created_at > cm.last_read_at
        WHERE cm.user_id = $1
        GROUP BY cm.channel_id
        ORDER BY cm.channel_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UnreadCount{}
	for rows.Next() {
		var c UnreadCount
		if err := rows.Scan(&c.ChannelID, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
