package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document is the current (mutable) row for a collaborative document.
// Content is an opaque serialized node tree; this service never interprets
// node semantics, it only replaces the whole tree on save.
type Document struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Content     json.RawMessage `json:"content,omitempty"`
	FolderRef   *int64          `json:"folderRef"`
	OwnerID     int64           `json:"ownerId"`
	EditedBy    *int64          `json:"editedBy"`
	Version     int64           `json:"version"`
	Description *string         `json:"description"`
	Tags        []string        `json:"tags"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	DeletedAt   *time.Time      `json:"deletedAt,omitempty"`
}

// Trashed reports whether the document is in the trash.
func (d Document) Trashed() bool {
	return d.DeletedAt != nil
}

// VersionSnapshot is one immutable row of a document's append-only history.
type VersionSnapshot struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"documentId"`
	Version    int64           `json:"version"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content,omitempty"`
	AuthorID   int64           `json:"authorId"`
	AuthorName string          `json:"authorName,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// ShareGrant gives a user access to someone else's document. At most one
// active grant exists per (document, grantee) pair.
type ShareGrant struct {
	ID          int64      `json:"id"`
	DocumentID  int64      `json:"documentId"`
	GranteeID   int64      `json:"granteeId"`
	GranteeName string     `json:"granteeName,omitempty"`
	Permission  Permission `json:"permission"`
	CanDelete   bool       `json:"canDelete"`
	GrantedBy   int64      `json:"grantedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SavePatch carries the fields of a partial document update. Nil fields are
// left unchanged by the save.
type SavePatch struct {
	Title       *string
	Content     json.RawMessage
	Description *string
	Tags        []string
}

func (p SavePatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Description == nil && p.Tags == nil
}
