// Package mention extracts @tokens from message text and resolves them to
// the set of principals that should receive a mention notification.
package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

// Broadcast tokens that address every member of the channel.
const (
	TokenChannel = "channel"
	TokenHere    = "here"
)

// Directory is what the resolver needs from the store.
type Directory interface {
	ChannelMemberIDs(ctx context.Context, channelID int64) ([]int64, error)
	// FindUserByDisplayName matches case-insensitively. With several
	// matches any one of them may be returned.
	FindUserByDisplayName(ctx context.Context, name string) (id int64, found bool, err error)
}

// Visibility filters out resolved users that cannot see the channel.
type Visibility interface {
	CanViewChannel(ctx context.Context, userID, channelID int64) error
}

// Extract returns the distinct tokens in first-seen order, case preserved.
func Extract(text string) []string {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		token := m[1]
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

func isBroadcast(token string) bool {
	return strings.EqualFold(token, TokenChannel) || strings.EqualFold(token, TokenHere)
}

type Resolver struct {
	dir        Directory
	visibility Visibility
}

func NewResolver(dir Directory, visibility Visibility) *Resolver {
	return &Resolver{dir: dir, visibility: visibility}
}

// Resolve returns the recipients of the mentions in text, never including
// the author. Tokens that match nobody are dropped silently.
func (r *Resolver) Resolve(ctx context.Context, channelID, authorID int64, text string) ([]int64, error) {
	tokens := Extract(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	var recipients []int64
	seen := map[int64]struct{}{authorID: {}}
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	broadcastDone := false
	for _, token := range tokens {
		if isBroadcast(token) {
			if broadcastDone {
				continue
			}
			broadcastDone = true
			members, err := r.dir.ChannelMemberIDs(ctx, channelID)
			if err != nil {
				return nil, fmt.Errorf("load channel members: %w", err)
			}
			for _, id := range members {
				add(id)
			}
			continue
		}

		id, found, err := r.dir.FindUserByDisplayName(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", token, err)
		}
		if !found {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if r.visibility != nil {
			if err := r.visibility.CanViewChannel(ctx, id, channelID); err != nil {
				continue
			}
		}
		add(id)
	}
	return recipients, nil
}
