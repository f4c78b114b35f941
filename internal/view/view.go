// Package view derives the read models clients render from raw rows:
// grouped reactions and thread summaries. Nothing here is persisted and
// every function is a pure function of its input.
package view

import "time"

// ReactionRow is a single stored reaction.
type ReactionRow struct {
	MessageID int64
	UserID    int64
	Emoji     string
}

type ReactionGroup struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// Reply is the part of a thread reply the summary needs.
type Reply struct {
	ID        int64
	CreatedAt time.Time
}

// ThreadStats is the per-root aggregate a store computes: how many replies
// and when the latest one was posted.
type ThreadStats struct {
	ReplyCount    int
	LatestReplyAt time.Time
}

type ThreadSummary struct {
	ReplyCount    int        `json:"replyCount"`
	LatestReplyAt *time.Time `json:"latestReplyAt"`
}

// GroupReactions buckets rows by emoji in first-seen order. A user counts
// once per emoji even if the input repeats a row.
func GroupReactions(rows []ReactionRow) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	seen := make(map[string]map[int64]struct{})

	for _, row := range rows {
		i, ok := index[row.Emoji]
		if !ok {
			i = len(groups)
			index[row.Emoji] = i
			seen[row.Emoji] = make(map[int64]struct{})
			groups = append(groups, ReactionGroup{Emoji: row.Emoji, Users: []int64{}})
		}
		if _, dup := seen[row.Emoji][row.UserID]; dup {
			continue
		}
		seen[row.Emoji][row.UserID] = struct{}{}
		groups[i].Users = append(groups[i].Users, row.UserID)
		groups[i].Count++
	}
	return groups
}

// GroupByMessage splits rows for several messages and groups each one.
func GroupByMessage(rows []ReactionRow) map[int64][]ReactionGroup {
	perMessage := make(map[int64][]ReactionRow)
	for _, row := range rows {
		perMessage[row.MessageID] = append(perMessage[row.MessageID], row)
	}
	out := make(map[int64][]ReactionGroup, len(perMessage))
	for id, rs := range perMessage {
		out[id] = GroupReactions(rs)
	}
	return out
}

// SummarizeThread expects replies in chronological order and only looks at
// the last one for the timestamp.
func SummarizeThread(replies []Reply) ThreadSummary {
	if len(replies) == 0 {
		return ThreadSummary{}
	}
	return ThreadStats{ReplyCount: len(replies), LatestReplyAt: replies[len(replies)-1].CreatedAt}.Summary()
}

func (s ThreadStats) Summary() ThreadSummary {
	if s.ReplyCount == 0 {
		return ThreadSummary{}
	}
	latest := s.LatestReplyAt
	return ThreadSummary{ReplyCount: s.ReplyCount, LatestReplyAt: &latest}
}
