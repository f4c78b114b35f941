package mention

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"teamchat/internal/apperr"
)

type fakeDirectory struct {
	members map[int64][]int64
	names   map[string]int64
	lookups int
}

func (d *fakeDirectory) ChannelMemberIDs(_ context.Context, channelID int64) ([]int64, error) {
	return d.members[channelID], nil
}

func (d *fakeDirectory) FindUserByDisplayName(_ context.Context, name string) (int64, bool, error) {
	d.lookups++
	id, ok := d.names[strings.ToLower(name)]
	return id, ok, nil
}

type memberVisibility struct{ dir *fakeDirectory }

func (v memberVisibility) CanViewChannel(_ context.Context, userID, channelID int64) error {
	for _, id := range v.dir.members[channelID] {
		if id == userID {
			return nil
		}
	}
	return apperr.Forbidden("not a member")
}

func newFixture() (*fakeDirectory, *Resolver) {
	dir := &fakeDirectory{
		members: map[int64][]int64{100: {1, 2, 3}},
		names:   map[string]int64{"alice": 1, "bob": 2, "carol": 3, "mallory": 9},
	}
	return dir, NewResolver(dir, memberVisibility{dir: dir})
}

func TestExtract(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{text: "no mentions here", want: []string{}},
		{text: "@Bob and @bob and @Bob", want: []string{"Bob", "bob"}},
		{text: "ping @channel, cc @carol_w!", want: []string{"channel", "carol_w"}},
		{text: "email me at a@b", want: []string{"b"}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			if got := Extract(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Extract(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestResolveChannelExcludesAuthor(t *testing.T) {
	_, r := newFixture()

	got, err := r.Resolve(context.Background(), 100, 1, "@channel hello")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("recipients = %v, want [2 3]", got)
	}
}

func TestResolveHereAndChannelTogetherLoadMembersOnce(t *testing.T) {
	_, r := newFixture()

	got, err := r.Resolve(context.Background(), 100, 2, "@here @channel @Carol")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Fatalf("recipients = %v, want [1 3]", got)
	}
}

func TestResolveDisplayNameCaseInsensitive(t *testing.T) {
	_, r := newFixture()

	got, err := r.Resolve(context.Background(), 100, 1, "thanks @BOB")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("recipients = %v, want [2]", got)
	}
}

func TestResolveSelfMentionSuppressed(t *testing.T) {
	_, r := newFixture()

	got, err := r.Resolve(context.Background(), 100, 1, "note to @alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("recipients = %v, want none", got)
	}
}

func TestResolveDropsUnknownAndOutsiders(t *testing.T) {
	_, r := newFixture()

	got, err := r.Resolve(context.Background(), 100, 1, "@nobody @mallory @bob")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("recipients = %v, want [2]", got)
	}
}
