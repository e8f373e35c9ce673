package models

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Message is a chat message. Messages are never hard-deleted: edits set
// EditedAt and deletes set IsDeleted.
type Message struct {
	ID        string     `json:"id"` // ULID on the Redis backend
	ChannelID string     `json:"channel_id"`
	AuthorID  string     `json:"user_id"`
	Content   string     `json:"content"`
	IsDecree  bool       `json:"is_decree"`
	IsDeleted bool       `json:"is_deleted"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	ReplyToID string     `json:"reply_to_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Author is joined from the profile cache, never stored.
	Author UserView `json:"-"`
}

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

// IsPinned reports whether the message is shown pinned. Decrees always are.
func (m Message) IsPinned() bool {
	return m.IsDecree
}

// IsEdited reports whether the message was edited.
func (m Message) IsEdited() bool {
	return m.EditedAt != nil
}

// DisplayContent is the rendered body, a tombstone for deleted messages.
func (m Message) DisplayContent() string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	return m.Content
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// ToRecord converts the stored fields into a remote record.
func (m Message) ToRecord() remote.Record {
	rec := remote.Record{
		"id":          m.ID,
		"channel_id":  m.ChannelID,
		"user_id":     m.AuthorID,
		"content":     m.Content,
		"is_decree":   m.IsDecree,
		"is_deleted":  m.IsDeleted,
		"edited_at":   timeOrNil(m.EditedAt),
		"reply_to_id": m.ReplyToID,
		"created_at":  m.CreatedAt,
	}
	if m.ID == "" {
		delete(rec, "id")
	}
	if m.CreatedAt.IsZero() {
		delete(rec, "created_at")
	}
	return rec
}
