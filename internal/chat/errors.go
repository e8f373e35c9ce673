package chat

import (
	"fmt"
)

// Denial is a command rejected by local validation. Its message is meant for
// the user.
type Denial struct {
	Code    string
	Message string
}

func (d *Denial) Error() string {
	return d.Message
}

var (
	ErrEmptyContent       = &Denial{Code: "empty_content", Message: "Message cannot be empty"}
	ErrNoDecreesRemaining = &Denial{Code: "no_decrees_remaining", Message: "You don't have any royal decrees remaining!"}
	ErrRankTooLow         = &Denial{Code: "rank_too_low", Message: "You need a higher rank to access this channel!"}
	ErrNotAuthor          = &Denial{Code: "not_author", Message: "You can only change your own messages"}
	ErrUnknownChannel     = &Denial{Code: "unknown_channel", Message: "Channel not found"}
	ErrUnknownMessage     = &Denial{Code: "unknown_message", Message: "Message not found"}
	ErrNotAuthenticated   = &Denial{Code: "not_authenticated", Message: "You must be signed in"}
	ErrNoActiveChannel    = &Denial{Code: "no_active_channel", Message: "Select a channel first"}
)

// DecreeCounterError reports a decree that was posted while the quota
// counter update failed. The message stays posted and the local counter is
// left untouched until the profile is reconciled.
type DecreeCounterError struct {
	MessageID string
	Err       error
}

func (e *DecreeCounterError) Error() string {
	return fmt.Sprintf("decree %s posted but counter update failed: %v", e.MessageID, e.Err)
}

func (e *DecreeCounterError) Unwrap() error {
	return e.Err
}

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	NoticeDenial  NoticeKind = "denial"
	NoticeError   NoticeKind = "error"
	NoticeSuccess NoticeKind = "success"
)

// Notice is a user-facing toast.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`
}

// NoticeFunc receives notices. It is called without controller locks held.
type NoticeFunc func(Notice)
