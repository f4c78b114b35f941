package pagination

import (
	"context"
	"net/url"
	"reflect"
	"strconv"
	"testing"
	"time"

	"teamchat/internal/apperr"
)

type row struct {
	id int64
	at time.Time
}

func rowPos(r row) Position { return Position{CreatedAt: r.at, ID: r.id} }

// history builds n rows one second apart, with ids 1..n.
func history(n int) []row {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := make([]row, n)
	for i := range rows {
		rows[i] = row{id: int64(i + 1), at: base.Add(time.Duration(i) * time.Second)}
	}
	return rows
}

func resolverFor(rows []row) ResolverFunc {
	return func(_ context.Context, id int64) (time.Time, error) {
		for _, r := range rows {
			if r.id == id {
				return r.at, nil
			}
		}
		return time.Time{}, apperr.NotFound("message not found")
	}
}

func page(t *testing.T, rows []row, values url.Values) Page[row] {
	t.Helper()
	req, err := ParseRequest(values)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	q, err := req.Resolve(context.Background(), resolverFor(rows))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return Finish(Select(q, rows, rowPos), q)
}

func ids(p Page[row]) []int64 {
	out := make([]int64, len(p.Items))
	for i, r := range p.Items {
		out[i] = r.id
	}
	return out
}

func TestParseRequest(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		want    Request
		wantErr bool
	}{
		{name: "defaults", query: "", want: Request{Limit: DefaultLimit}},
		{name: "limit", query: "limit=10", want: Request{Limit: 10}},
		{name: "before", query: "before=42", want: Request{Limit: DefaultLimit, Before: 42}},
		{name: "after", query: "after=7&limit=5", want: Request{Limit: 5, After: 7}},
		{name: "limit zero", query: "limit=0", wantErr: true},
		{name: "limit too large", query: "limit=101", wantErr: true},
		{name: "bad cursor", query: "before=abc", wantErr: true},
		{name: "negative cursor", query: "after=-3", wantErr: true},
		{name: "both cursors", query: "before=1&after=2", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values, _ := url.ParseQuery(tc.query)
			got, err := ParseRequest(values)
			if tc.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseRequest = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPagesAreChronologicalWithoutGapOrOverlap(t *testing.T) {
	rows := history(120)

	first := page(t, rows, url.Values{"limit": {"50"}})
	if len(first.Items) != 50 || !first.HasMore {
		t.Fatalf("first page len=%d hasMore=%v, want 50/true", len(first.Items), first.HasMore)
	}
	if first.Items[0].id != 71 || first.Items[49].id != 120 {
		t.Fatalf("first page spans %d..%d, want 71..120", first.Items[0].id, first.Items[49].id)
	}
	for i := 1; i < len(first.Items); i++ {
		if !rowPos(first.Items[i-1]).Less(rowPos(first.Items[i])) {
			t.Fatalf("page not chronological at %d", i)
		}
	}

	// The oldest item of the page is the cursor for the next older page.
	oldest := first.Items[0].id
	second := page(t, rows, url.Values{"limit": {"50"}, "before": {strconv.FormatInt(oldest, 10)}})
	if second.Items[49].id != oldest-1 {
		t.Fatalf("second page ends at %d, want %d", second.Items[49].id, oldest-1)
	}
	if second.Items[0].id != 21 {
		t.Fatalf("second page starts at %d, want 21", second.Items[0].id)
	}

	third := page(t, rows, url.Values{"limit": {"50"}, "before": {"21"}})
	if len(third.Items) != 20 || third.HasMore {
		t.Fatalf("third page len=%d hasMore=%v, want 20/false", len(third.Items), third.HasMore)
	}
}

func TestBeforeCursorIsIdempotent(t *testing.T) {
	rows := history(60)
	values := url.Values{"limit": {"25"}, "before": {"40"}}

	a := page(t, rows, values)
	b := page(t, rows, values)
	if !reflect.DeepEqual(ids(a), ids(b)) {
		t.Fatalf("repeated pages differ: %v vs %v", ids(a), ids(b))
	}
}

func TestAfterCursorReturnsClosestNewer(t *testing.T) {
	rows := history(30)

	got := page(t, rows, url.Values{"limit": {"5"}, "after": {"10"}})
	want := []int64{11, 12, 13, 14, 15}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("after page = %v, want %v", ids(got), want)
	}
}

func TestIdenticalTimestampsBreakTiesByID(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := []row{{id: 3, at: at}, {id: 1, at: at}, {id: 2, at: at}, {id: 4, at: at}}

	first := page(t, rows, url.Values{"limit": {"2"}})
	if !reflect.DeepEqual(ids(first), []int64{3, 4}) {
		t.Fatalf("first page = %v, want [3 4]", ids(first))
	}
	second := page(t, rows, url.Values{"limit": {"2"}, "before": {"3"}})
	if !reflect.DeepEqual(ids(second), []int64{1, 2}) {
		t.Fatalf("second page = %v, want [1 2]", ids(second))
	}
}

func TestUnknownCursorIsNotFound(t *testing.T) {
	req := Request{Limit: 10, Before: 999}
	_, err := req.Resolve(context.Background(), resolverFor(history(3)))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestClause(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sql, args := Query{Limit: 20}.Clause("m.created_at", "m.id", 2)
	if sql != " ORDER BY m.created_at DESC, m.id DESC LIMIT $2" || len(args) != 1 {
		t.Fatalf("no cursor clause = %q %v", sql, args)
	}

	q := Query{Limit: 20, Direction: Forward, Cursor: &Position{CreatedAt: at, ID: 9}}
	sql, args = q.Clause("m.created_at", "m.id", 2)
	want := " AND (m.created_at, m.id) > ($2, $3) ORDER BY m.created_at ASC, m.id ASC LIMIT $4"
	if sql != want {
		t.Fatalf("clause = %q, want %q", sql, want)
	}
	if len(args) != 3 || args[1] != int64(9) || args[2] != 20 {
		t.Fatalf("args = %v", args)
	}
}
