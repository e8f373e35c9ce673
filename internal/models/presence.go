package models

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// PresenceStatus is a user's announced availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// PresenceRecord is a row of the user_presence collection.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username,omitempty"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// ToRecord converts the presence record into a remote record.
func (p PresenceRecord) ToRecord() remote.Record {
	return remote.Record{
		"user_id":   p.UserID,
		"status":    string(p.Status),
		"last_seen": p.LastSeen,
	}
}

// TypingRecord is a row of the typing_indicators collection. (channel, user)
// is unique.
type TypingRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ChannelID string    `json:"channel_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToRecord converts the typing signal into a remote record.
func (t TypingRecord) ToRecord() remote.Record {
	return remote.Record{
		"user_id":    t.UserID,
		"username":   t.Username,
		"channel_id": t.ChannelID,
		"updated_at": t.UpdatedAt,
	}
}
