package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the schema. The store owns every uniqueness rule the
// service relies on: (user,message,emoji), (channel,user), (workspace,name).
func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            display_name VARCHAR(80) NOT NULL,
            password VARCHAR(255) NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT '',
            status VARCHAR(10) NOT NULL DEFAULT 'offline'
                CHECK (status IN ('online', 'away', 'dnd', 'offline')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	`CREATE INDEX IF NOT EXISTS users_display_name_lower ON users (LOWER(display_name))`,

	`CREATE TABLE IF NOT EXISTS workspaces (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(80) NOT NULL,
            owner_id BIGINT NOT NULL REFERENCES users(id),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS workspace_members (
            workspace_id BIGINT REFERENCES workspaces(id) ON DELETE CASCADE,
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            role VARCHAR(10) NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (workspace_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS channels (
            id BIGSERIAL PRIMARY KEY,
            workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
            name VARCHAR(80) NOT NULL,
            topic TEXT NOT NULL DEFAULT '',
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            created_by BIGINT NOT NULL REFERENCES users(id),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (workspace_id, name)
        )`,

	`CREATE TABLE IF NOT EXISTS channel_members (
            channel_id BIGINT REFERENCES channels(id) ON DELETE CASCADE,
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_read_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (user_id, channel_id)
        )`,
	`CREATE INDEX IF NOT EXISTS channel_members_channel ON channel_members (channel_id)`,

	`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            type VARCHAR(10) CHECK (type IN ('private', 'self')) DEFAULT 'private',
            pair_key VARCHAR(64) UNIQUE NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS participants (
            conversation_id BIGINT REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (conversation_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            channel_id BIGINT REFERENCES channels(id) ON DELETE CASCADE,
            conversation_id BIGINT REFERENCES conversations(id) ON DELETE CASCADE,
            parent_id BIGINT REFERENCES messages(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL REFERENCES users(id),
            content TEXT NOT NULL,
            attachment_url TEXT NOT NULL DEFAULT '',
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK ((channel_id IS NULL) <> (conversation_id IS NULL))
        )`,
	`CREATE INDEX IF NOT EXISTS messages_channel_page ON messages (channel_id, created_at DESC, id DESC) WHERE parent_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_page ON messages (conversation_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS messages_thread_page ON messages (parent_id, created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS reactions (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            emoji VARCHAR(64) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (user_id, message_id, emoji)
        )`,
	`CREATE INDEX IF NOT EXISTS reactions_message ON reactions (message_id, created_at, id)`,

	`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            recipient_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('mention', 'dm', 'thread', 'reaction')),
            content TEXT NOT NULL,
            reference_id BIGINT NOT NULL,
            reference_type VARCHAR(20) NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	`CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications (recipient_id, created_at DESC, id DESC)`,
}
