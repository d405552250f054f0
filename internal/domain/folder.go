package domain

// Role is the access level a user holds on a folder.
type Role string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// CanWrite reports whether the role permits mutating card content and
// scheduling state. A viewer may read and advance through a session but
// never persists anything.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

// Folder groups cards under one owner. CardCount is denormalized and
// eventually consistent.
type Folder struct {
	ID        string `json:"id"`
	OwnerUID  string `json:"ownerUid"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	CardCount int    `json:"cardCount"`
}

// Share grants SharedUID access to one of OwnerUID's folders.
type Share struct {
	OwnerUID  string `json:"ownerUid"`
	FolderID  string `json:"folderId"`
	SharedUID string `json:"sharedUid"`
	Role      Role   `json:"role"`
}

// ReviewSelection is one resolved source a session queue pulls from.
// FolderID is empty when the selection spans all folders owned by OwnerUID.
type ReviewSelection struct {
	OwnerUID string
	FolderID string
	Role     Role
	Shared   bool
}

// ReviewContext is the per-card access metadata attached by the queue
// builder and consumed by the review commit.
type ReviewContext struct {
	OwnerUID string `json:"ownerUid"`
	Role     Role   `json:"role"`
	Shared   bool   `json:"shared"`
}

// StatsEvent is the review fact forwarded to the stats collaborator.
type StatsEvent struct {
	Rating   Rating   `json:"rating"`
	FolderID string   `json:"folderId"`
	Tags     []string `json:"tags,omitempty"`
	Minutes  float64  `json:"minutes"`
	IsNew    bool     `json:"isNew"`
}
