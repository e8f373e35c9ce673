package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

const (
	defaultPresenceTTL = 90 * time.Second
	typingHashTTL      = time.Hour
	maxWatchRetries    = 3
)

// RedisStore handles Redis operations for messages, reactions, typing
// signals, presence and the realtime change feed.
type RedisStore struct {
	client      *redis.Client
	retention   time.Duration
	presenceTTL time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithMessageRetention expires messages after d. Zero keeps them forever.
func WithMessageRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// WithPresenceTTL sets how long a presence record stays without a refresh.
func WithPresenceTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.presenceTTL = d
		}
	}
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(redisOpts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	s := &RedisStore{client: client, presenceTTL: defaultPresenceTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func messageKey(id string) string {
	return fmt.Sprintf("kc:message:%s", id)
}

// channelMessagesKey returns the key for a channel's message id sorted set.
func channelMessagesKey(channelID string) string {
	return fmt.Sprintf("kc:channel:%s:messages", channelID)
}

func reactionsKey(messageID string) string {
	return fmt.Sprintf("kc:message:%s:reactions", messageID)
}

func reactionField(userID, emoji string) string {
	return userID + "|" + emoji
}

func typingKey(channelID string) string {
	return fmt.Sprintf("kc:channel:%s:typing", channelID)
}

const typingChannelsKey = "kc:typing:channels"

func presenceKey(userID string) string {
	return "kc:presence:" + userID
}

func trackKey(key string) string {
	return "kc:track:" + key
}

func trackEventsChannel(key string) string {
	return "kc:track:" + key + ":events"
}

func changesChannel(collection string) string {
	return "kc:changes:" + collection
}

// AddMessage stores a message and indexes it by creation time in its channel.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := channelMessagesKey(msg.ChannelID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messageKey(msg.ID), data, s.retention)
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(msg.CreatedAt.UnixMilli()),
			Member: msg.ID,
		})
		if s.retention > 0 {
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	return err
}

// GetMessage retrieves a message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	data, err := s.client.Get(ctx, messageKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetChannelMessages retrieves up to limit messages of a channel, newest
// first. before (unix ms, exclusive) pages backwards when positive.
func (s *RedisStore) GetChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	maxScore := "+inf"
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, channelMessagesKey(channelID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue // expired
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// UpdateMessage applies mutate to a stored message under optimistic locking.
// mutate returns false to leave the message untouched. It returns the
// message before and after the change; both are nil when nothing changed.
func (s *RedisStore) UpdateMessage(ctx context.Context, id string, mutate func(*models.Message) bool) (before, after *models.Message, err error) {
	key := messageKey(id)
	txf := func(tx *redis.Tx) error {
		before, after = nil, nil

		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var current models.Message
		if err := json.Unmarshal([]byte(data), &current); err != nil {
			return err
		}
		next := current
		if !mutate(&next) {
			return nil
		}
		next.ID = current.ID

		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		before, after = &current, &next
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return before, after, err
		}
	}
	return nil, nil, err
}

// AddReaction stores a reaction. A repeated (message, user, emoji) fails with
// ErrDuplicate.
func (s *RedisStore) AddReaction(ctx context.Context, r *models.Reaction) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	added, err := s.client.HSetNX(ctx, reactionsKey(r.MessageID), reactionField(r.UserID, r.Emoji), data).Result()
	if err != nil {
		return err
	}
	if !added {
		return ErrDuplicate
	}
	return nil
}

// RemoveReaction deletes a reaction and returns it, or nil when it did not
// exist or a concurrent caller removed it first.
func (s *RedisStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, error) {
	key := reactionsKey(messageID)
	field := reactionField(userID, emoji)

	data, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	removed, err := s.client.HDel(ctx, key, field).Result()
	if err != nil || removed == 0 {
		return nil, err
	}

	var r models.Reaction
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReactions retrieves the reactions of every given message in one round trip.
func (s *RedisStore) GetReactions(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return []models.Reaction{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(messageIDs))
	for i, id := range messageIDs {
		cmds[i] = pipe.HGetAll(ctx, reactionsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var reactions []models.Reaction
	for _, cmd := range cmds {
		for _, data := range cmd.Val() {
			var r models.Reaction
			if err := json.Unmarshal([]byte(data), &r); err != nil {
				continue
			}
			reactions = append(reactions, r)
		}
	}
	return reactions, nil
}

// SetTyping upserts a typing signal and reports whether it is new.
func (s *RedisStore) SetTyping(ctx context.Context, t *models.TypingRecord) (bool, error) {
	t.ID = t.ChannelID + ":" + t.UserID
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return false, err
	}

	key := typingKey(t.ChannelID)
	var created *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSet(ctx, key, t.UserID, data)
		pipe.Expire(ctx, key, typingHashTTL)
		pipe.SAdd(ctx, typingChannelsKey, t.ChannelID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return created.Val() > 0, nil
}

// ClearTyping removes a typing signal and returns it, or nil if absent.
func (s *RedisStore) ClearTyping(ctx context.Context, channelID, userID string) (*models.TypingRecord, error) {
	key := typingKey(channelID)
	data, err := s.client.HGet(ctx, key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	removed, err := s.client.HDel(ctx, key, userID).Result()
	if err != nil || removed == 0 {
		return nil, err
	}

	var t models.TypingRecord
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTyping retrieves the typing signals of a channel.
func (s *RedisStore) GetTyping(ctx context.Context, channelID string) ([]models.TypingRecord, error) {
	values, err := s.client.HGetAll(ctx, typingKey(channelID)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.TypingRecord, 0, len(values))
	for _, data := range values {
		var t models.TypingRecord
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		records = append(records, t)
	}
	return records, nil
}

// CleanupTyping removes signals last updated before cutoff and returns the
// ones this call removed. Concurrent callers never report the same signal.
func (s *RedisStore) CleanupTyping(ctx context.Context, cutoff time.Time) ([]models.TypingRecord, error) {
	channels, err := s.client.SMembers(ctx, typingChannelsKey).Result()
	if err != nil {
		return nil, err
	}

	var removed []models.TypingRecord
	for _, channelID := range channels {
		records, err := s.GetTyping(ctx, channelID)
		if err != nil {
			return removed, err
		}
		if len(records) == 0 {
			s.client.SRem(ctx, typingChannelsKey, channelID)
			continue
		}
		for _, t := range records {
			if !t.UpdatedAt.Before(cutoff) {
				continue
			}
			n, err := s.client.HDel(ctx, typingKey(channelID), t.UserID).Result()
			if err != nil {
				return removed, err
			}
			if n > 0 {
				removed = append(removed, t)
			}
		}
	}
	return removed, nil
}

// SetPresence stores a presence record with the presence TTL and returns the
// previous record, if any.
func (s *RedisStore) SetPresence(ctx context.Context, p *models.PresenceRecord) (*models.PresenceRecord, error) {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}

	previous, err := s.getPresence(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, presenceKey(p.UserID), data, s.presenceTTL).Err(); err != nil {
		return nil, err
	}
	return previous, nil
}

func (s *RedisStore) getPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	data, err := s.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPresence retrieves the presence records of the given users. Users whose
// record expired are absent from the result.
func (s *RedisStore) GetPresence(ctx context.Context, userIDs []string) ([]models.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return []models.PresenceRecord{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return decodePresence(values), nil
}

// ListPresence retrieves every live presence record.
func (s *RedisStore) ListPresence(ctx context.Context) ([]models.PresenceRecord, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, presenceKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.PresenceRecord{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return decodePresence(values), nil
}

func decodePresence(values []any) []models.PresenceRecord {
	records := make([]models.PresenceRecord, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var p models.PresenceRecord
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			continue
		}
		records = append(records, p)
	}
	return records
}

// TrackEvent is a membership change on a presence key.
type TrackEvent struct {
	Type   string        `json:"type"` // "join" or "leave"
	Member string        `json:"member"`
	State  remote.Record `json:"state,omitempty"`
}

// Track adds member to the presence key and announces the join.
func (s *RedisStore) Track(ctx context.Context, key, member string, state remote.Record) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, trackKey(key), member, data).Err(); err != nil {
		return err
	}
	return s.publish(ctx, trackEventsChannel(key), TrackEvent{Type: "join", Member: member, State: state})
}

// Untrack removes member from the presence key and announces the leave.
func (s *RedisStore) Untrack(ctx context.Context, key, member string) error {
	if err := s.client.HDel(ctx, trackKey(key), member).Err(); err != nil {
		return err
	}
	return s.publish(ctx, trackEventsChannel(key), TrackEvent{Type: "leave", Member: member})
}

// TrackedStates returns the current members of a presence key.
func (s *RedisStore) TrackedStates(ctx context.Context, key string) (map[string]remote.Record, error) {
	values, err := s.client.HGetAll(ctx, trackKey(key)).Result()
	if err != nil {
		return nil, err
	}
	states := make(map[string]remote.Record, len(values))
	for member, data := range values {
		var state remote.Record
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}
		states[member] = state
	}
	return states, nil
}

// SubscribeTrack opens a subscription to a presence key's membership events.
func (s *RedisStore) SubscribeTrack(ctx context.Context, key string) (*redis.PubSub, error) {
	return s.subscribe(ctx, trackEventsChannel(key))
}

// PublishChange broadcasts a change to subscribers of its collection.
func (s *RedisStore) PublishChange(ctx context.Context, c remote.Change) error {
	return s.publish(ctx, changesChannel(c.Collection), c)
}

// SubscribeChanges opens a subscription to a collection's change feed.
func (s *RedisStore) SubscribeChanges(ctx context.Context, collection string) (*redis.PubSub, error) {
	return s.subscribe(ctx, changesChannel(collection))
}

func (s *RedisStore) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// subscribe waits for the subscription to be confirmed so no event published
// after it returns is missed.
func (s *RedisStore) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}
