package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Remote records latency and failures of every call made through it.
// Missing records and unique conflicts are expected outcomes, not failures.
type Remote struct {
	next remote.Remote
}

// InstrumentRemote wraps next with Prometheus instrumentation.
func InstrumentRemote(next remote.Remote) *Remote {
	return &Remote{next: next}
}

func observe(op, collection string, start time.Time, err error) {
	RemoteLatency.WithLabelValues(op, collection).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, remote.ErrNotFound) && !errors.Is(err, remote.ErrConflict) {
		RemoteErrors.WithLabelValues(op, collection).Inc()
	}
}

func (r *Remote) FetchOne(ctx context.Context, collection string, filter remote.Filter) (remote.Record, error) {
	start := time.Now()
	rec, err := r.next.FetchOne(ctx, collection, filter)
	observe("fetch_one", collection, start, err)
	return rec, err
}

func (r *Remote) FetchMany(ctx context.Context, collection string, filter remote.Filter, opts remote.ListOptions) ([]remote.Record, error) {
	start := time.Now()
	rows, err := r.next.FetchMany(ctx, collection, filter, opts)
	observe("fetch_many", collection, start, err)
	return rows, err
}

func (r *Remote) Insert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	start := time.Now()
	rec, err := r.next.Insert(ctx, collection, record)
	observe("insert", collection, start, err)
	return rec, err
}

func (r *Remote) Upsert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	start := time.Now()
	rec, err := r.next.Upsert(ctx, collection, record)
	observe("upsert", collection, start, err)
	return rec, err
}

func (r *Remote) Update(ctx context.Context, collection string, filter remote.Filter, patch remote.Record) (int, error) {
	start := time.Now()
	n, err := r.next.Update(ctx, collection, filter, patch)
	observe("update", collection, start, err)
	return n, err
}

func (r *Remote) Delete(ctx context.Context, collection string, filter remote.Filter) (int, error) {
	start := time.Now()
	n, err := r.next.Delete(ctx, collection, filter)
	observe("delete", collection, start, err)
	return n, err
}

func (r *Remote) Subscribe(ctx context.Context, collection string, filter remote.Filter, handlers remote.ChangeHandlers) (remote.SubscriptionID, error) {
	start := time.Now()
	id, err := r.next.Subscribe(ctx, collection, filter, handlers)
	observe("subscribe", collection, start, err)
	if err == nil {
		LiveSubscriptions.Inc()
	}
	return id, err
}

func (r *Remote) Unsubscribe(ctx context.Context, id remote.SubscriptionID) error {
	err := r.next.Unsubscribe(ctx, id)
	if err == nil {
		LiveSubscriptions.Dec()
	}
	return err
}

func (r *Remote) CallProcedure(ctx context.Context, name string, args remote.Record) (remote.Record, error) {
	start := time.Now()
	rec, err := r.next.CallProcedure(ctx, name, args)
	observe("rpc", name, start, err)
	return rec, err
}

func (r *Remote) TrackPresence(ctx context.Context, key string, self remote.Record, handlers remote.PresenceHandlers) (remote.PresenceID, error) {
	start := time.Now()
	id, err := r.next.TrackPresence(ctx, key, self, handlers)
	observe("track", key, start, err)
	return id, err
}

func (r *Remote) Untrack(ctx context.Context, id remote.PresenceID) error {
	return r.next.Untrack(ctx, id)
}
