package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("add reaction: %w", Conflict("reaction already exists"))
	if got := KindOf(err); got != KindConflict {
		t.Fatalf("KindOf = %q, want %q", got, KindConflict)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %q, want %q", got, KindInternal)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindForbidden, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			if got := Status(tc.kind); got != tc.want {
				t.Fatalf("Status(%q) = %d, want %d", tc.kind, got, tc.want)
			}
		})
	}
}

func TestFromStore(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: KindConflict},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, want: KindNotFound},
		{name: "no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), want: KindNotFound},
		{name: "other", err: errors.New("connection reset"), want: KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(FromStore(tc.err, "reaction")); got != tc.want {
				t.Fatalf("KindOf(FromStore) = %q, want %q", got, tc.want)
			}
		})
	}
	if FromStore(nil, "reaction") != nil {
		t.Fatal("FromStore(nil) should be nil")
	}
}
