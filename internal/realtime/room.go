package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Room is a broadcast scope derived from an entity id. Rooms are never
// persisted; a session is subscribed to the rooms its principal may observe.
type Room string

type RoomKind string

const (
	KindChannel   RoomKind = "channel"
	KindUser      RoomKind = "user"
	KindWorkspace RoomKind = "workspace"
)

func ChannelRoom(id int64) Room   { return roomOf(KindChannel, id) }
func UserRoom(id int64) Room      { return roomOf(KindUser, id) }
func WorkspaceRoom(id int64) Room { return roomOf(KindWorkspace, id) }

func roomOf(kind RoomKind, id int64) Room {
	return Room(string(kind) + ":" + strconv.FormatInt(id, 10))
}

// ParseRoom splits a room key into its kind and entity id.
func ParseRoom(raw string) (RoomKind, int64, error) {
	kind, idPart, ok := strings.Cut(raw, ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid room %q", raw)
	}
	switch RoomKind(kind) {
	case KindChannel, KindUser, KindWorkspace:
	default:
		return "", 0, fmt.Errorf("unknown room kind %q", kind)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid room id %q", idPart)
	}
	return RoomKind(kind), id, nil
}
