package remote

import (
	"context"
	"time"
)

// Timeout bounds every call of the wrapped Remote. Subscriptions and
// presence handles outlive the call that opened them; only opening them is
// bounded.
type Timeout struct {
	next Remote
	d    time.Duration
}

// WithTimeout wraps next. A non-positive d disables the bound.
func WithTimeout(next Remote, d time.Duration) *Timeout {
	return &Timeout{next: next, d: d}
}

func (t *Timeout) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.d)
}

func (t *Timeout) FetchOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.FetchOne(ctx, collection, filter)
}

func (t *Timeout) FetchMany(ctx context.Context, collection string, filter Filter, opts ListOptions) ([]Record, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.FetchMany(ctx, collection, filter, opts)
}

func (t *Timeout) Insert(ctx context.Context, collection string, record Record) (Record, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Insert(ctx, collection, record)
}

func (t *Timeout) Upsert(ctx context.Context, collection string, record Record) (Record, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Upsert(ctx, collection, record)
}

func (t *Timeout) Update(ctx context.Context, collection string, filter Filter, patch Record) (int, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Update(ctx, collection, filter, patch)
}

func (t *Timeout) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Delete(ctx, collection, filter)
}

func (t *Timeout) Subscribe(ctx context.Context, collection string, filter Filter, handlers ChangeHandlers) (SubscriptionID, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Subscribe(ctx, collection, filter, handlers)
}

func (t *Timeout) Unsubscribe(ctx context.Context, id SubscriptionID) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Unsubscribe(ctx, id)
}

func (t *Timeout) CallProcedure(ctx context.Context, name string, args Record) (Record, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.CallProcedure(ctx, name, args)
}

func (t *Timeout) TrackPresence(ctx context.Context, key string, self Record, handlers PresenceHandlers) (PresenceID, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.TrackPresence(ctx, key, self, handlers)
}

func (t *Timeout) Untrack(ctx context.Context, id PresenceID) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Untrack(ctx, id)
}
