package user

import (
	"context"
	"database/sql"
	"errors"

	"teamchat/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, username, display_name, password, avatar_url, status, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Password, &u.AvatarURL, &u.Status, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (username, display_name, password, status)
              VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, user.Username, user.DisplayName, user.Password, user.Status).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, apperr.FromStore(err, "username")
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = $1"
	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, apperr.FromStore(err, "user")
	}
	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperr.FromStore(err, "user")
	}
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT ` + userColumns + ` FROM users
          WHERE username ILIKE $1 OR display_name ILIKE $1
          ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// FindUserByDisplayName matches case-insensitively. When several users
// share a display name the lowest id wins.
func (r *Repository) FindUserByDisplayName(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE LOWER(display_name) = LOWER($1) ORDER BY id LIMIT 1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Repository) UpdateDisplayName(ctx context.Context, id int64, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET display_name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// UpdateAvatar stores url and returns the URL it replaced.
func (r *Repository) UpdateAvatar(ctx context.Context, id int64, url string) (string, error) {
	var previous string
	err := r.db.QueryRowContext(ctx, `
        UPDATE users u SET avatar_url = $2
        FROM (SELECT avatar_url FROM users WHERE id = $1 FOR UPDATE) old
        WHERE u.id = $1
        RETURNING old.avatar_url`, id, url).Scan(&previous)
	if err != nil {
		return "", apperr.FromStore(err, "user")
	}
	return previous, nil
}

func (r *Repository) GetStatus(ctx context.Context, id int64) (string, error) {
	var status string
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = $1`, id).Scan(&status); err != nil {
		return "", apperr.FromStore(err, "user")
	}
	return status, nil
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}
