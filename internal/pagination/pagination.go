// Package pagination turns opaque message-id cursors into time-ordered
// range queries. A cursor is resolved to the (created_at, id) position of
// the row it names, and rows are compared on that pair so that rows sharing
// a timestamp are still ordered deterministically by id.
package pagination

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"teamchat/internal/apperr"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Direction int

const (
	// Backward pages walk from newest to oldest (no cursor or ?before=).
	Backward Direction = iota
	// Forward pages walk from the cursor towards newer rows (?after=).
	Forward
)

type Request struct {
	Limit  int
	Before int64
	After  int64
}

// Position orders rows: created_at first, id as the tie-break.
type Position struct {
	CreatedAt time.Time
	ID        int64
}

func (p Position) Less(o Position) bool {
	if p.CreatedAt.Equal(o.CreatedAt) {
		return p.ID < o.ID
	}
	return p.CreatedAt.Before(o.CreatedAt)
}

// ResolverFunc returns the creation time of the row a cursor names. It must
// report NotFound when the row is absent or outside the paged scope.
type ResolverFunc func(ctx context.Context, id int64) (time.Time, error)

type Query struct {
	Limit     int
	Direction Direction
	Cursor    *Position
}

type Page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"hasMore"`
}

func ParseRequest(q url.Values) (Request, error) {
	req := Request{Limit: DefaultLimit}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return Request{}, apperr.Validation("limit must be between 1 and %d", MaxLimit)
		}
		req.Limit = limit
	}

	var err error
	if req.Before, err = parseCursor(q.Get("before")); err != nil {
		return Request{}, err
	}
	if req.After, err = parseCursor(q.Get("after")); err != nil {
		return Request{}, err
	}
	if req.Before != 0 && req.After != 0 {
		return Request{}, apperr.Validation("before and after are mutually exclusive")
	}
	return req, nil
}

func parseCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid cursor %q", raw)
	}
	return id, nil
}

// Resolve binds the request to a concrete range query.
func (r Request) Resolve(ctx context.Context, resolve ResolverFunc) (Query, error) {
	q := Query{Limit: r.Limit, Direction: Backward}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	cursor := r.Before
	if r.After != 0 {
		cursor = r.After
		q.Direction = Forward
	}
	if cursor == 0 {
		return q, nil
	}

	createdAt, err := resolve(ctx, cursor)
	if err != nil {
		return Query{}, err
	}
	q.Cursor = &Position{CreatedAt: createdAt, ID: cursor}
	return q, nil
}

// Clause renders the range condition, ordering and limit for a query whose
// WHERE clause already has nextArg-1 positional arguments. The returned
// fragment starts with " AND" when a cursor is present.
func (q Query) Clause(createdCol, idCol string, nextArg int) (string, []any) {
	op, order := "<", "DESC"
	if q.Direction == Forward {
		op, order = ">", "ASC"
	}

	var sql string
	var args []any
	if q.Cursor != nil {
		sql = fmt.Sprintf(" AND (%s, %s) %s ($%d, $%d)", createdCol, idCol, op, nextArg, nextArg+1)
		args = append(args, q.Cursor.CreatedAt, q.Cursor.ID)
		nextArg += 2
	}
	sql += fmt.Sprintf(" ORDER BY %s %s, %s %s LIMIT $%d", createdCol, order, idCol, order, nextArg)
	args = append(args, q.Limit)
	return sql, args
}

// Admits reports whether a row at pos lies on the query's side of the cursor.
func (q Query) Admits(pos Position) bool {
	if q.Cursor == nil {
		return true
	}
	if q.Direction == Forward {
		return q.Cursor.Less(pos)
	}
	return pos.Less(*q.Cursor)
}

// Select applies the query to an in-memory slice exactly as Clause does in
// SQL and returns rows in fetch order.
func Select[T any](q Query, rows []T, pos func(T) Position) []T {
	var out []T
	for _, row := range rows {
		if q.Admits(pos(row)) {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		pa, pb := pos(a), pos(b)
		switch {
		case !pa.Less(pb) && !pb.Less(pa):
			return 0
		case pa.Less(pb) == (q.Direction == Forward):
			return -1
		default:
			return 1
		}
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Finish converts rows in fetch order into a chronological page. HasMore is
// a heuristic: a full page says there may be more.
func Finish[T any](items []T, q Query) Page[T] {
	if items == nil {
		items = []T{}
	}
	if q.Direction == Backward {
		slices.Reverse(items)
	}
	return Page[T]{Items: items, HasMore: len(items) == q.Limit}
}
