package view

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestGroupReactionsFirstSeenOrder(t *testing.T) {
	rows := []ReactionRow{
		{MessageID: 1, UserID: 2, Emoji: "🎉"},
		{MessageID: 1, UserID: 1, Emoji: "👍"},
		{MessageID: 1, UserID: 3, Emoji: "🎉"},
		{MessageID: 1, UserID: 3, Emoji: "👍"},
	}

	got := GroupReactions(rows)
	want := []ReactionGroup{
		{Emoji: "🎉", Count: 2, Users: []int64{2, 3}},
		{Emoji: "👍", Count: 2, Users: []int64{1, 3}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupReactions = %+v, want %+v", got, want)
	}
}

func TestGroupReactionsDuplicateRowCountsOnce(t *testing.T) {
	rows := []ReactionRow{
		{MessageID: 7, UserID: 1, Emoji: "👍"},
		{MessageID: 7, UserID: 1, Emoji: "👍"},
	}

	got := GroupReactions(rows)
	want := []ReactionGroup{{Emoji: "👍", Count: 1, Users: []int64{1}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupReactions = %+v, want %+v", got, want)
	}
}

func TestGroupReactionsEmptyEncodesAsArray(t *testing.T) {
	out, err := json.Marshal(GroupReactions(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "[]" {
		t.Fatalf("json = %s, want []", out)
	}
}

func TestGroupReactionsIsIdempotent(t *testing.T) {
	rows := []ReactionRow{{UserID: 1, Emoji: "a"}, {UserID: 2, Emoji: "b"}}
	first := GroupReactions(rows)
	second := GroupReactions(rows)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated calls differ: %+v vs %+v", first, second)
	}
}

func TestGroupByMessage(t *testing.T) {
	rows := []ReactionRow{
		{MessageID: 1, UserID: 1, Emoji: "👍"},
		{MessageID: 2, UserID: 1, Emoji: "👀"},
		{MessageID: 1, UserID: 2, Emoji: "👍"},
	}
	got := GroupByMessage(rows)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1][0].Count != 2 || got[2][0].Emoji != "👀" {
		t.Fatalf("unexpected groups: %+v", got)
	}
}

func TestSummarizeThread(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	replies := []Reply{
		{ID: 10, CreatedAt: base},
		{ID: 11, CreatedAt: base.Add(time.Minute)},
		{ID: 12, CreatedAt: base.Add(2 * time.Minute)},
	}

	got := SummarizeThread(replies)
	if got.ReplyCount != 3 {
		t.Fatalf("ReplyCount = %d, want 3", got.ReplyCount)
	}
	if got.LatestReplyAt == nil || !got.LatestReplyAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("LatestReplyAt = %v, want %v", got.LatestReplyAt, base.Add(2*time.Minute))
	}

	empty := SummarizeThread(nil)
	if empty.ReplyCount != 0 || empty.LatestReplyAt != nil {
		t.Fatalf("empty summary = %+v, want zero", empty)
	}
}

func TestThreadStatsSummary(t *testing.T) {
	latest := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	got := ThreadStats{ReplyCount: 4, LatestReplyAt: latest}.Summary()
	if got.ReplyCount != 4 || got.LatestReplyAt == nil || !got.LatestReplyAt.Equal(latest) {
		t.Fatalf("Summary = %+v", got)
	}
	if empty := (ThreadStats{}).Summary(); empty.LatestReplyAt != nil {
		t.Fatalf("empty summary = %+v, want no timestamp", empty)
	}
}
