// Package memory is an in-process remote.Remote. Change events and presence
// callbacks are delivered synchronously on the writer's goroutine after the
// write is applied, which keeps tests deterministic.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// DefaultTypingExpiry is how old a typing signal must be before the cleanup
// procedure removes it.
const DefaultTypingExpiry = 10 * time.Second

// Procedure is a server-side function callable through CallProcedure.
type Procedure func(ctx context.Context, b *Backend, args remote.Record) (remote.Record, error)

// Call records one operation issued against the backend.
type Call struct {
	Op         string
	Collection string
}

type subscription struct {
	collection string
	filter     remote.Filter
	handlers   remote.ChangeHandlers
}

type tracker struct {
	key      string
	self     remote.Record
	handlers remote.PresenceHandlers
}

type failure struct {
	op, collection string
	err            error
}

// Backend is a thread-safe in-memory backend.
type Backend struct {
	mu       sync.Mutex
	tables   map[string][]remote.Record
	unique   map[string][]string
	subs     map[remote.SubscriptionID]subscription
	trackers map[remote.PresenceID]tracker
	procs    map[string]Procedure
	failures []failure
	calls    []Call
	now      func() time.Time

	typingExpiry time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source used for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithTypingExpiry overrides the cleanup threshold of typing signals.
func WithTypingExpiry(d time.Duration) Option {
	return func(b *Backend) { b.typingExpiry = d }
}

// New creates an empty backend with the chat collections' unique keys and
// the built-in procedures registered.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[string][]remote.Record),
		subs:     make(map[remote.SubscriptionID]subscription),
		trackers: make(map[remote.PresenceID]tracker),
		procs:    make(map[string]Procedure),
		now:      time.Now,
		unique: map[string][]string{
			remote.Profiles:         {"user_id"},
			remote.Reactions:        {"message_id", "user_id", "emoji"},
			remote.TypingIndicators: {"channel_id", "user_id"},
			remote.UserPresence:     {"user_id"},
		},
		typingExpiry: DefaultTypingExpiry,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.procs[remote.ProcUpdatePresence] = updatePresence
	b.procs[remote.ProcCleanupTyping] = cleanupTyping
	return b
}

// Register adds or replaces a procedure.
func (b *Backend) Register(name string, proc Procedure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procs[name] = proc
}

// FailNext makes the next matching operation fail with err. An empty
// collection matches any collection.
func (b *Backend) FailNext(op, collection string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{op: op, collection: collection, err: err})
}

// Calls returns the operations issued so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CountCalls returns how many times op was issued against collection.
func (b *Backend) CountCalls(op, collection string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Op == op && (collection == "" || c.Collection == collection) {
			n++
		}
	}
	return n
}

// Seed inserts rows directly, without events or call recording.
func (b *Backend) Seed(collection string, rows ...remote.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.tables[collection] = append(b.tables[collection], b.fill(r.Clone()))
	}
}

// Rows returns a copy of a collection's rows.
func (b *Backend) Rows(collection string) []remote.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]remote.Record, 0, len(b.tables[collection]))
	for _, r := range b.tables[collection] {
		out = append(out, r.Clone())
	}
	return out
}

// Subscriptions returns the number of open change subscriptions.
func (b *Backend) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers a change to subscribers without touching stored rows. Tests
// use it to replay late or out-of-order events.
func (b *Backend) Emit(c remote.Change) {
	b.mu.Lock()
	targets := b.matching(c)
	b.mu.Unlock()
	deliver(targets, c)
}

// begin records the call and pops a pending failure. Must hold b.mu.
func (b *Backend) begin(op, collection string) error {
	b.calls = append(b.calls, Call{Op: op, Collection: collection})
	for i, f := range b.failures {
		if f.op == op && (f.collection == "" || f.collection == collection) {
			b.failures = append(b.failures[:i], b.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (b *Backend) fill(r remote.Record) remote.Record {
	if r.String("id") == "" {
		r["id"] = uuid.NewString()
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = b.now().UTC()
	}
	return r
}

func (b *Backend) uniqueKey(collection string, r remote.Record) (string, bool) {
	fields, ok := b.unique[collection]
	if !ok {
		return "", false
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = r.String(f)
	}
	return strings.Join(parts, "\x00"), true
}

// indexOf finds the row sharing r's id or unique key. Must hold b.mu.
func (b *Backend) indexOf(collection string, r remote.Record) int {
	key, hasKey := b.uniqueKey(collection, r)
	id := r.String("id")
	for i, row := range b.tables[collection] {
		if id != "" && row.String("id") == id {
			return i
		}
		if hasKey {
			if k, _ := b.uniqueKey(collection, row); k == key {
				return i
			}
		}
	}
	return -1
}

func (b *Backend) matching(c remote.Change) []remote.ChangeHandlers {
	var out []remote.ChangeHandlers
	row := c.Row()
	for _, s := range b.subs {
		if s.collection == c.Collection && s.filter.Match(row) {
			out = append(out, s.handlers)
		}
	}
	return out
}

func deliver(targets []remote.ChangeHandlers, changes ...remote.Change) {
	for _, c := range changes {
		for _, h := range targets {
			h.Dispatch(c)
		}
	}
}

// FetchOne implements remote.Remote.
func (b *Backend) FetchOne(ctx context.Context, collection string, filter remote.Filter) (remote.Record, error) {
	rows, err := b.fetch(ctx, "fetch_one", collection, filter, remote.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return rows[0], nil
}

// FetchMany implements remote.Remote.
func (b *Backend) FetchMany(ctx context.Context, collection string, filter remote.Filter, opts remote.ListOptions) ([]remote.Record, error) {
	return b.fetch(ctx, "fetch_many", collection, filter, opts)
}

func (b *Backend) fetch(ctx context.Context, op, collection string, filter remote.Filter, opts remote.ListOptions) ([]remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(op, collection); err != nil {
		return nil, err
	}
	rows := make([]remote.Record, 0, len(b.tables[collection]))
	for _, r := range b.tables[collection] {
		rows = append(rows, r.Clone())
	}
	return remote.Apply(rows, filter, opts), nil
}

// Insert implements remote.Remote.
func (b *Backend) Insert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if err := b.begin("insert", collection); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	row := b.fill(record.Clone())
	if b.indexOf(collection, row) >= 0 {
		b.mu.Unlock()
		return nil, remote.ErrConflict
	}
	b.tables[collection] = append(b.tables[collection], row)
	change := remote.Change{Collection: collection, Type: remote.ChangeInsert, New: row.Clone()}
	targets := b.matching(change)
	b.mu.Unlock()

	deliver(targets, change)
	return row.Clone(), nil
}

// Upsert implements remote.Remote. Rows are matched by id or unique key.
func (b *Backend) Upsert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if err := b.begin("upsert", collection); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	var change remote.Change
	idx := b.indexOf(collection, record)
	if idx >= 0 {
		old := b.tables[collection][idx]
		patch := record.Clone()
		delete(patch, "id")
		row := old.Merge(patch)
		b.tables[collection][idx] = row
		change = remote.Change{Collection: collection, Type: remote.ChangeUpdate, New: row.Clone(), Old: old.Clone()}
	} else {
		row := b.fill(record.Clone())
		b.tables[collection] = append(b.tables[collection], row)
		change = remote.Change{Collection: collection, Type: remote.ChangeInsert, New: row.Clone()}
	}
	targets := b.matching(change)
	b.mu.Unlock()

	deliver(targets, change)
	return change.New.Clone(), nil
}

// Update implements remote.Remote.
func (b *Backend) Update(ctx context.Context, collection string, filter remote.Filter, patch remote.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if err := b.begin("update", collection); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	var changes []remote.Change
	var targets []remote.ChangeHandlers
	for i, row := range b.tables[collection] {
		if !filter.Match(row) {
			continue
		}
		updated := row.Merge(patch)
		b.tables[collection][i] = updated
		c := remote.Change{Collection: collection, Type: remote.ChangeUpdate, New: updated.Clone(), Old: row.Clone()}
		changes = append(changes, c)
	}
	b.mu.Unlock()

	for _, c := range changes {
		b.mu.Lock()
		targets = b.matching(c)
		b.mu.Unlock()
		deliver(targets, c)
	}
	return len(changes), nil
}

// Delete implements remote.Remote.
func (b *Backend) Delete(ctx context.Context, collection string, filter remote.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if err := b.begin("delete", collection); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	changes := b.deleteLocked(collection, filter)
	b.mu.Unlock()

	b.publish(changes)
	return len(changes), nil
}

func (b *Backend) deleteLocked(collection string, filter remote.Filter) []remote.Change {
	var changes []remote.Change
	kept := b.tables[collection][:0]
	for _, row := range b.tables[collection] {
		if filter.Match(row) {
			changes = append(changes, remote.Change{Collection: collection, Type: remote.ChangeDelete, Old: row.Clone()})
			continue
		}
		kept = append(kept, row)
	}
	b.tables[collection] = kept
	return changes
}

func (b *Backend) publish(changes []remote.Change) {
	for _, c := range changes {
		b.mu.Lock()
		targets := b.matching(c)
		b.mu.Unlock()
		deliver(targets, c)
	}
}

// Subscribe implements remote.Remote.
func (b *Backend) Subscribe(ctx context.Context, collection string, filter remote.Filter, handlers remote.ChangeHandlers) (remote.SubscriptionID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin("subscribe", collection); err != nil {
		return "", err
	}
	id := remote.SubscriptionID(uuid.NewString())
	b.subs[id] = subscription{collection: collection, filter: filter, handlers: handlers}
	return id, nil
}

// Unsubscribe implements remote.Remote. Unknown ids are ignored.
func (b *Backend) Unsubscribe(ctx context.Context, id remote.SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Op: "unsubscribe"})
	delete(b.subs, id)
	return nil
}

// CallProcedure implements remote.Remote.
func (b *Backend) CallProcedure(ctx context.Context, name string, args remote.Record) (remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	err := b.begin("rpc", name)
	proc, ok := b.procs[name]
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, remote.ErrUnknownProcedure
	}
	return proc(ctx, b, args)
}

// TrackPresence implements remote.Remote.
func (b *Backend) TrackPresence(ctx context.Context, key string, self remote.Record, handlers remote.PresenceHandlers) (remote.PresenceID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	if err := b.begin("track", key); err != nil {
		b.mu.Unlock()
		return "", err
	}
	id := remote.PresenceID(uuid.NewString())
	memberKey := self.String("user_id")
	b.trackers[id] = tracker{key: key, self: self.Clone(), handlers: handlers}
	states := make(map[string]remote.Record)
	var others []remote.PresenceHandlers
	for tid, t := range b.trackers {
		if t.key != key {
			continue
		}
		states[t.self.String("user_id")] = t.self.Clone()
		if tid != id {
			others = append(others, t.handlers)
		}
	}
	b.mu.Unlock()

	if handlers.OnSync != nil {
		handlers.OnSync(states)
	}
	for _, h := range others {
		if h.OnJoin != nil {
			h.OnJoin(memberKey, self.Clone())
		}
	}
	return id, nil
}

// Untrack implements remote.Remote.
func (b *Backend) Untrack(ctx context.Context, id remote.PresenceID) error {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Op: "untrack"})
	t, ok := b.trackers[id]
	delete(b.trackers, id)
	var others []remote.PresenceHandlers
	if ok {
		for _, other := range b.trackers {
			if other.key == t.key {
				others = append(others, other.handlers)
			}
		}
	}
	b.mu.Unlock()

	for _, h := range others {
		if h.OnLeave != nil {
			h.OnLeave(t.self.String("user_id"))
		}
	}
	return nil
}

func updatePresence(ctx context.Context, b *Backend, args remote.Record) (remote.Record, error) {
	row := remote.Record{
		"user_id":   args.String("user_id"),
		"status":    args.String("status"),
		"last_seen": b.now().UTC(),
	}
	return b.Upsert(ctx, remote.UserPresence, row)
}

func cleanupTyping(ctx context.Context, b *Backend, _ remote.Record) (remote.Record, error) {
	b.mu.Lock()
	cutoff := b.now().Add(-b.typingExpiry)
	changes := b.deleteLocked(remote.TypingIndicators, remote.Before("updated_at", cutoff))
	b.mu.Unlock()

	b.publish(changes)
	return remote.Record{"removed": len(changes)}, nil
}
