// Package remote defines the backend capability set the chat core consumes:
// record fetches and writes, a realtime change feed, server-side procedures
// and presence tracking.
package remote

import (
	"context"
	"errors"
)

// Collections known to the chat core.
const (
	Profiles         = "profiles"
	Channels         = "channels"
	Messages         = "messages"
	Reactions        = "message_reactions"
	TypingIndicators = "typing_indicators"
	UserPresence     = "user_presence"
)

// Procedures known to the chat core.
const (
	ProcUpdatePresence = "update_user_presence"
	ProcCleanupTyping  = "cleanup_typing_indicators"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
	// ErrUnknownProcedure is returned by CallProcedure for unregistered names.
	ErrUnknownProcedure = errors.New("unknown procedure")
	// ErrUnknownCollection is returned for collections a backend does not serve.
	ErrUnknownCollection = errors.New("unknown collection")
)

// ListOptions controls FetchMany ordering and size.
type ListOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// ChangeType is the kind of a realtime change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is a single realtime event. New is empty for deletes, Old is empty
// for inserts.
type Change struct {
	Collection string     `json:"collection"`
	Type       ChangeType `json:"type"`
	New        Record     `json:"new,omitempty"`
	Old        Record     `json:"old,omitempty"`
}

// Row returns the record the change is about: New unless it is a delete.
func (c Change) Row() Record {
	if c.Type == ChangeDelete {
		return c.Old
	}
	return c.New
}

// ChangeHandlers receive realtime events. Nil handlers are skipped.
type ChangeHandlers struct {
	OnInsert func(Change)
	OnUpdate func(Change)
	OnDelete func(Change)
}

// Dispatch routes a change to the matching handler.
func (h ChangeHandlers) Dispatch(c Change) {
	var fn func(Change)
	switch c.Type {
	case ChangeInsert:
		fn = h.OnInsert
	case ChangeUpdate:
		fn = h.OnUpdate
	case ChangeDelete:
		fn = h.OnDelete
	}
	if fn != nil {
		fn(c)
	}
}

// PresenceHandlers receive presence membership events for a key.
type PresenceHandlers struct {
	OnJoin  func(key string, state Record)
	OnLeave func(key string)
	OnSync  func(states map[string]Record)
}

// SubscriptionID identifies an open change subscription.
type SubscriptionID string

// PresenceID identifies an open presence tracking handle.
type PresenceID string

// Remote is the backend the chat core talks to.
type Remote interface {
	FetchOne(ctx context.Context, collection string, filter Filter) (Record, error)
	FetchMany(ctx context.Context, collection string, filter Filter, opts ListOptions) ([]Record, error)
	Insert(ctx context.Context, collection string, record Record) (Record, error)
	Upsert(ctx context.Context, collection string, record Record) (Record, error)
	Update(ctx context.Context, collection string, filter Filter, patch Record) (int, error)
	Delete(ctx context.Context, collection string, filter Filter) (int, error)

	Subscribe(ctx context.Context, collection string, filter Filter, handlers ChangeHandlers) (SubscriptionID, error)
	Unsubscribe(ctx context.Context, id SubscriptionID) error

	CallProcedure(ctx context.Context, name string, args Record) (Record, error)

	TrackPresence(ctx context.Context, key string, self Record, handlers PresenceHandlers) (PresenceID, error)
	Untrack(ctx context.Context, id PresenceID) error
}
