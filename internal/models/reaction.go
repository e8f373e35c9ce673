package models

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Reaction is one user's emoji on one message. (message, user, emoji) is unique.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ToRecord converts the reaction into a remote record without id or timestamp.
func (r Reaction) ToRecord() remote.Record {
	return remote.Record{
		"message_id": r.MessageID,
		"user_id":    r.UserID,
		"emoji":      r.Emoji,
	}
}

// ReactionSummary aggregates one emoji on one message.
type ReactionSummary struct {
	Emoji                 string   `json:"emoji"`
	Count                 int      `json:"count"`
	ReactorIDs            []string `json:"reactor_ids"`
	HasCurrentUserReacted bool     `json:"has_current_user_reacted"`
}
