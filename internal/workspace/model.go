package workspace

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// GeneralChannel is created with every workspace and joined by every member.
const GeneralChannel = "general"

type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Channel struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspaceId"`
	Name        string    `json:"name"`
	Topic       string    `json:"topic"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedBy   int64     `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

type CreateChannelRequest struct {
	Name      string `json:"name"`
	Topic     string `json:"topic"`
	IsPrivate bool   `json:"isPrivate"`
}

type AddMemberRequest struct {
	UserID int64 `json:"userId"`
}

// ChannelRemoved is the payload of channel:removed.
type ChannelRemoved struct {
	ChannelID int64 `json:"channelId"`
}
