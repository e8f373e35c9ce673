// Package backend implements remote.Remote over the durable profile/channel
// store and the Redis store. Every write is broadcast on the Redis change
// feed so all connected sessions observe it.
package backend

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/store"
)

// ErrUnsupported is returned for operations a collection does not allow,
// such as hard-deleting messages.
var ErrUnsupported = errors.New("operation not supported")

const defaultTypingExpiry = 10 * time.Second

// Backend routes collections to their stores.
type Backend struct {
	data   store.DataStore
	redis  *store.RedisStore
	logger zerolog.Logger
	now    func() time.Time

	typingExpiry time.Duration

	mu       sync.Mutex
	subs     map[remote.SubscriptionID]*feed
	trackers map[remote.PresenceID]*tracked
}

type feed struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

type tracked struct {
	feed
	key    string
	member string
}

// Option configures a Backend.
type Option func(*Backend)

// WithTypingExpiry sets the age after which typing signals are cleaned up.
func WithTypingExpiry(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.typingExpiry = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a backend.
func New(data store.DataStore, rs *store.RedisStore, logger zerolog.Logger, opts ...Option) *Backend {
	b := &Backend{
		data:         data,
		redis:        rs,
		logger:       logger.With().Str("component", "backend").Logger(),
		now:          time.Now,
		typingExpiry: defaultTypingExpiry,
		subs:         make(map[remote.SubscriptionID]*feed),
		trackers:     make(map[remote.PresenceID]*tracked),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close ends every open subscription and presence handle.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, f := range b.subs {
		f.close()
		delete(b.subs, id)
	}
	for id, t := range b.trackers {
		t.close()
		delete(b.trackers, id)
	}
}

func (f *feed) close() {
	if f.closed.CompareAndSwap(false, true) {
		f.ps.Close()
	}
}

// FetchOne implements remote.Remote.
func (b *Backend) FetchOne(ctx context.Context, collection string, filter remote.Filter) (remote.Record, error) {
	rows, err := b.FetchMany(ctx, collection, filter, remote.ListOptions{Limit: 1})
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
	rows, err := b.fetch(ctx, collection, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", collection)
	}
	return remote.Apply(rows, filter, opts), nil
}

func (b *Backend) fetch(ctx context.Context, collection string, filter remote.Filter, opts remote.ListOptions) ([]remote.Record, error) {
	switch collection {
	case remote.Profiles:
		ids, ok := stringValues(filter, "user_id")
		if !ok {
			return nil, errors.New("user_id filter required")
		}
		profiles, err := b.data.ListProfiles(ctx, ids)
		if err != nil {
			return nil, err
		}
		return toRecords(profiles, models.Profile.ToRecord), nil

	case remote.Channels:
		channels, err := b.data.ListChannels(ctx)
		if err != nil {
			return nil, err
		}
		return toRecords(channels, models.Channel.ToRecord), nil

	case remote.Messages:
		if ids, ok := stringValues(filter, "id"); ok {
			var rows []remote.Record
			for _, id := range ids {
				msg, err := b.redis.GetMessage(ctx, id)
				if err != nil {
					return nil, err
				}
				if msg != nil {
					rows = append(rows, msg.ToRecord())
				}
			}
			return rows, nil
		}
		channelID, ok := stringValue(filter, "channel_id")
		if !ok {
			return nil, errors.New("channel_id filter required")
		}
		msgs, err := b.redis.GetChannelMessages(ctx, channelID, opts.Limit, 0)
		if err != nil {
			return nil, err
		}
		return toRecords(msgs, models.Message.ToRecord), nil

	case remote.Reactions:
		ids, ok := stringValues(filter, "message_id")
		if !ok {
			return nil, errors.New("message_id filter required")
		}
		reactions, err := b.redis.GetReactions(ctx, ids)
		if err != nil {
			return nil, err
		}
		return toRecords(reactions, reactionRecord), nil

	case remote.TypingIndicators:
		channelID, ok := stringValue(filter, "channel_id")
		if !ok {
			return nil, errors.New("channel_id filter required")
		}
		records, err := b.redis.GetTyping(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return toRecords(records, typingRecord), nil

	case remote.UserPresence:
		var records []models.PresenceRecord
		var err error
		if ids, ok := stringValues(filter, "user_id"); ok {
			records, err = b.redis.GetPresence(ctx, ids)
		} else {
			records, err = b.redis.ListPresence(ctx)
		}
		if err != nil {
			return nil, err
		}
		return toRecords(records, models.PresenceRecord.ToRecord), nil
	}
	return nil, remote.ErrUnknownCollection
}

// Insert implements remote.Remote. Typing signals and presence records are
// keyed by user and behave like Upsert.
func (b *Backend) Insert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	switch collection {
	case remote.TypingIndicators, remote.UserPresence:
		return b.Upsert(ctx, collection, record)
	}

	row, err := b.insert(ctx, collection, record)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, remote.ErrConflict
		}
		return nil, errors.Wrapf(err, "insert %s", collection)
	}
	b.publish(ctx, remote.Change{Collection: collection, Type: remote.ChangeInsert, New: row})
	return row, nil
}

func (b *Backend) insert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	switch collection {
	case remote.Profiles:
		p, err := models.Decode[models.Profile](record)
		if err != nil {
			return nil, err
		}
		created, err := b.data.CreateProfile(ctx, &p)
		if err != nil {
			return nil, err
		}
		return created.ToRecord(), nil

	case remote.Channels:
		c, err := models.Decode[models.Channel](record)
		if err != nil {
			return nil, err
		}
		created, err := b.data.CreateChannel(ctx, &c)
		if err != nil {
			return nil, err
		}
		return created.ToRecord(), nil

	case remote.Messages:
		m, err := models.Decode[models.Message](record)
		if err != nil {
			return nil, err
		}
		if err := b.redis.AddMessage(ctx, &m); err != nil {
			return nil, err
		}
		return m.ToRecord(), nil

	case remote.Reactions:
		r, err := models.Decode[models.Reaction](record)
		if err != nil {
			return nil, err
		}
		if err := b.redis.AddReaction(ctx, &r); err != nil {
			return nil, err
		}
		return reactionRecord(r), nil
	}
	return nil, remote.ErrUnknownCollection
}

// Upsert implements remote.Remote.
func (b *Backend) Upsert(ctx context.Context, collection string, record remote.Record) (remote.Record, error) {
	var change remote.Change
	var err error
	switch collection {
	case remote.TypingIndicators:
		change, err = b.upsertTyping(ctx, record)
	case remote.UserPresence:
		change, err = b.upsertPresence(ctx, record)
	case remote.Profiles:
		change, err = b.upsertProfile(ctx, record)
	default:
		return b.Insert(ctx, collection, record)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "upsert %s", collection)
	}
	b.publish(ctx, change)
	return change.New, nil
}

func (b *Backend) upsertTyping(ctx context.Context, record remote.Record) (remote.Change, error) {
	t, err := models.Decode[models.TypingRecord](record)
	if err != nil {
		return remote.Change{}, err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = b.now().UTC()
	}
	created, err := b.redis.SetTyping(ctx, &t)
	if err != nil {
		return remote.Change{}, err
	}
	change := remote.Change{Collection: remote.TypingIndicators, Type: remote.ChangeUpdate, New: typingRecord(t)}
	if created {
		change.Type = remote.ChangeInsert
	}
	return change, nil
}

func (b *Backend) upsertPresence(ctx context.Context, record remote.Record) (remote.Change, error) {
	p, err := models.Decode[models.PresenceRecord](record)
	if err != nil {
		return remote.Change{}, err
	}
	if !p.Status.Valid() {
		return remote.Change{}, errors.Errorf("invalid status %q", p.Status)
	}
	p.LastSeen = b.now().UTC()
	prev, err := b.redis.SetPresence(ctx, &p)
	if err != nil {
		return remote.Change{}, err
	}
	change := remote.Change{Collection: remote.UserPresence, Type: remote.ChangeInsert, New: p.ToRecord()}
	if prev != nil {
		change.Type = remote.ChangeUpdate
		change.Old = prev.ToRecord()
	}
	return change, nil
}

func (b *Backend) upsertProfile(ctx context.Context, record remote.Record) (remote.Change, error) {
	userID := record.String("user_id")
	existing, err := b.data.GetProfile(ctx, userID)
	if err != nil {
		return remote.Change{}, err
	}
	if existing == nil {
		row, err := b.insert(ctx, remote.Profiles, record)
		if err != nil {
			return remote.Change{}, err
		}
		return remote.Change{Collection: remote.Profiles, Type: remote.ChangeInsert, New: row}, nil
	}

	upd, err := profileUpdate(record, nil)
	if err != nil {
		return remote.Change{}, err
	}
	if _, err := b.data.UpdateProfile(ctx, userID, upd); err != nil {
		return remote.Change{}, err
	}
	updated, err := b.data.GetProfile(ctx, userID)
	if err != nil {
		return remote.Change{}, err
	}
	return remote.Change{Collection: remote.Profiles, Type: remote.ChangeUpdate, New: updated.ToRecord(), Old: existing.ToRecord()}, nil
}

// Update implements remote.Remote.
func (b *Backend) Update(ctx context.Context, collection string, filter remote.Filter, patch remote.Record) (int, error) {
	var changes []remote.Change
	var err error
	switch collection {
	case remote.Profiles:
		changes, err = b.updateProfile(ctx, filter, patch)
	case remote.Messages:
		changes, err = b.updateMessages(ctx, filter, patch)
	case remote.Channels, remote.Reactions, remote.TypingIndicators, remote.UserPresence:
		err = ErrUnsupported
	default:
		err = remote.ErrUnknownCollection
	}
	if err != nil {
		return 0, errors.Wrapf(err, "update %s", collection)
	}
	for _, c := range changes {
		b.publish(ctx, c)
	}
	return len(changes), nil
}

func (b *Backend) updateProfile(ctx context.Context, filter remote.Filter, patch remote.Record) ([]remote.Change, error) {
	userID, ok := stringValue(filter, "user_id")
	if !ok {
		return nil, errors.New("user_id filter required")
	}
	var expect *int
	if v, ok := filter.Value("decrees_used"); ok {
		n, ok := remote.Record{"v": v}.Int("v")
		if !ok {
			return nil, errors.Errorf("decrees_used filter is not a number: %v", v)
		}
		used := int(n)
		expect = &used
	}
	upd, err := profileUpdate(patch, expect)
	if err != nil {
		return nil, err
	}

	before, err := b.data.GetProfile(ctx, userID)
	if err != nil || before == nil {
		return nil, err
	}
	if !filter.Match(before.ToRecord()) {
		return nil, nil
	}
	changed, err := b.data.UpdateProfile(ctx, userID, upd)
	if err != nil || !changed {
		return nil, err
	}
	after, err := b.data.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if after == nil {
		return nil, nil
	}
	return []remote.Change{{Collection: remote.Profiles, Type: remote.ChangeUpdate, New: after.ToRecord(), Old: before.ToRecord()}}, nil
}

func (b *Backend) updateMessages(ctx context.Context, filter remote.Filter, patch remote.Record) ([]remote.Change, error) {
	ids, ok := stringValues(filter, "id")
	if !ok {
		return nil, errors.New("id filter required")
	}
	var decodeErr error
	var changes []remote.Change
	for _, id := range ids {
		before, after, err := b.redis.UpdateMessage(ctx, id, func(m *models.Message) bool {
			rec := m.ToRecord()
			if !filter.Match(rec) {
				return false
			}
			next, err := models.Decode[models.Message](rec.Merge(patch))
			if err != nil {
				decodeErr = err
				return false
			}
			*m = next
			return true
		})
		if err != nil {
			return changes, err
		}
		if decodeErr != nil {
			return changes, decodeErr
		}
		if after != nil {
			changes = append(changes, remote.Change{Collection: remote.Messages, Type: remote.ChangeUpdate, New: after.ToRecord(), Old: before.ToRecord()})
		}
	}
	return changes, nil
}

// Delete implements remote.Remote. Messages are never hard-deleted.
func (b *Backend) Delete(ctx context.Context, collection string, filter remote.Filter) (int, error) {
	var old remote.Record
	var err error
	switch collection {
	case remote.Reactions:
		old, err = b.deleteReaction(ctx, filter)
	case remote.TypingIndicators:
		old, err = b.deleteTyping(ctx, filter)
	case remote.Profiles, remote.Channels, remote.Messages, remote.UserPresence:
		err = ErrUnsupported
	default:
		err = remote.ErrUnknownCollection
	}
	if err != nil {
		return 0, errors.Wrapf(err, "delete %s", collection)
	}
	if old == nil {
		return 0, nil
	}
	b.publish(ctx, remote.Change{Collection: collection, Type: remote.ChangeDelete, Old: old})
	return 1, nil
}

func (b *Backend) deleteReaction(ctx context.Context, filter remote.Filter) (remote.Record, error) {
	messageID, ok1 := stringValue(filter, "message_id")
	userID, ok2 := stringValue(filter, "user_id")
	emoji, ok3 := stringValue(filter, "emoji")
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("message_id, user_id and emoji filters required")
	}
	r, err := b.redis.RemoveReaction(ctx, messageID, userID, emoji)
	if err != nil || r == nil {
		return nil, err
	}
	return reactionRecord(*r), nil
}

func (b *Backend) deleteTyping(ctx context.Context, filter remote.Filter) (remote.Record, error) {
	channelID, ok1 := stringValue(filter, "channel_id")
	userID, ok2 := stringValue(filter, "user_id")
	if !ok1 || !ok2 {
		return nil, errors.New("channel_id and user_id filters required")
	}
	t, err := b.redis.ClearTyping(ctx, channelID, userID)
	if err != nil || t == nil {
		return nil, err
	}
	return typingRecord(*t), nil
}

// CallProcedure implements remote.Remote.
func (b *Backend) CallProcedure(ctx context.Context, name string, args remote.Record) (remote.Record, error) {
	switch name {
	case remote.ProcUpdatePresence:
		return b.Upsert(ctx, remote.UserPresence, remote.Record{
			"user_id": args.String("user_id"),
			"status":  args.String("status"),
		})

	case remote.ProcCleanupTyping:
		removed, err := b.redis.CleanupTyping(ctx, b.now().Add(-b.typingExpiry))
		if err != nil {
			return nil, errors.Wrap(err, "cleanup typing indicators")
		}
		for _, t := range removed {
			b.publish(ctx, remote.Change{Collection: remote.TypingIndicators, Type: remote.ChangeDelete, Old: typingRecord(t)})
		}
		return remote.Record{"removed": len(removed)}, nil
	}
	return nil, remote.ErrUnknownProcedure
}

// Subscribe implements remote.Remote. Handlers run on a dedicated goroutine
// per subscription, in publish order.
func (b *Backend) Subscribe(ctx context.Context, collection string, filter remote.Filter, handlers remote.ChangeHandlers) (remote.SubscriptionID, error) {
	ps, err := b.redis.SubscribeChanges(ctx, collection)
	if err != nil {
		return "", errors.Wrapf(err, "subscribe %s", collection)
	}

	f := &feed{ps: ps}
	id := remote.SubscriptionID(uuid.New().String())
	b.mu.Lock()
	b.subs[id] = f
	b.mu.Unlock()

	logger := b.logger.With().Str("collection", collection).Str("subscription", string(id)).Logger()
	go func() {
		for msg := range ps.Channel() {
			if f.closed.Load() {
				return
			}
			var c remote.Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed change")
				continue
			}
			if filter.Match(c.Row()) {
				handlers.Dispatch(c)
			}
		}
	}()
	return id, nil
}

// Unsubscribe implements remote.Remote. Unknown ids are ignored.
func (b *Backend) Unsubscribe(ctx context.Context, id remote.SubscriptionID) error {
	b.mu.Lock()
	f, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		f.close()
	}
	return nil
}

// TrackPresence implements remote.Remote. The member is identified by the
// user_id of self; a session never sees its own join or leave.
func (b *Backend) TrackPresence(ctx context.Context, key string, self remote.Record, handlers remote.PresenceHandlers) (remote.PresenceID, error) {
	member := self.String("user_id")
	if member == "" {
		return "", errors.New("track presence: user_id required")
	}

	ps, err := b.redis.SubscribeTrack(ctx, key)
	if err != nil {
		return "", errors.Wrap(err, "track presence")
	}
	if err := b.redis.Track(ctx, key, member, self); err != nil {
		ps.Close()
		return "", errors.Wrap(err, "track presence")
	}
	states, err := b.redis.TrackedStates(ctx, key)
	if err != nil {
		ps.Close()
		return "", errors.Wrap(err, "track presence")
	}

	t := &tracked{feed: feed{ps: ps}, key: key, member: member}
	id := remote.PresenceID(uuid.New().String())
	b.mu.Lock()
	b.trackers[id] = t
	b.mu.Unlock()

	if handlers.OnSync != nil {
		handlers.OnSync(states)
	}

	logger := b.logger.With().Str("presence_key", key).Logger()
	go func() {
		for msg := range ps.Channel() {
			if t.closed.Load() {
				return
			}
			var ev store.TrackEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed presence event")
				continue
			}
			if ev.Member == member {
				continue
			}
			switch ev.Type {
			case "join":
				if handlers.OnJoin != nil {
					handlers.OnJoin(ev.Member, ev.State)
				}
			case "leave":
				if handlers.OnLeave != nil {
					handlers.OnLeave(ev.Member)
				}
			}
		}
	}()
	return id, nil
}

// Untrack implements remote.Remote.
func (b *Backend) Untrack(ctx context.Context, id remote.PresenceID) error {
	b.mu.Lock()
	t, ok := b.trackers[id]
	delete(b.trackers, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	t.close()
	return errors.Wrap(b.redis.Untrack(ctx, t.key, t.member), "untrack presence")
}

// publish broadcasts a change. A failed broadcast does not undo the write,
// so it is logged rather than returned.
func (b *Backend) publish(ctx context.Context, c remote.Change) {
	if err := b.redis.PublishChange(ctx, c); err != nil {
		b.logger.Warn().Err(err).
			Str("collection", c.Collection).
			Str("type", string(c.Type)).
			Msg("failed to publish change")
	}
}
