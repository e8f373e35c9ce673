// Package reactions aggregates emoji reactions over the visible messages.
package reactions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/metrics"
	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Outcome is the effect of a toggle.
type Outcome string

const (
	Added    Outcome = "added"
	Removed  Outcome = "removed"
	Conflict Outcome = "conflict"
)

// DefaultEventTimeout bounds a refresh triggered by a remote change.
const DefaultEventTimeout = 10 * time.Second

// Aggregator keeps the reaction summaries of a set of messages.
type Aggregator struct {
	remote remote.Remote
	logger zerolog.Logger
	userID string

	eventTimeout time.Duration

	mu        sync.Mutex
	ids       []string
	epoch     uint64
	seq       uint64 // last refresh started
	applied   uint64 // last refresh whose result was kept
	subID     remote.SubscriptionID
	reactions []models.Reaction
	summaries map[string][]models.ReactionSummary

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithEventTimeout bounds refreshes triggered by remote changes.
func WithEventTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.eventTimeout = d
		}
	}
}

// New creates an aggregator for userID.
func New(r remote.Remote, userID string, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		remote:       r,
		logger:       logger.With().Str("component", "reactions").Logger(),
		userID:       userID,
		eventTimeout: DefaultEventTimeout,
		summaries:    make(map[string][]models.ReactionSummary),
		locks:        make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetMessages replaces the tracked message set, resubscribes and recomputes.
// Setting the same set again is a no-op.
func (a *Aggregator) SetMessages(ctx context.Context, ids []string) error {
	ids = normalize(ids)

	a.mu.Lock()
	if a.subID != "" && equalIDs(a.ids, ids) {
		a.mu.Unlock()
		return nil
	}
	a.epoch++
	epoch := a.epoch
	prevSub := a.subID
	a.ids = ids
	a.subID = ""
	a.reactions = nil
	a.summaries = make(map[string][]models.ReactionSummary)
	a.mu.Unlock()

	if prevSub != "" {
		if err := a.remote.Unsubscribe(ctx, prevSub); err != nil {
			a.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
	if len(ids) == 0 {
		return nil
	}

	handler := func(c remote.Change) { a.onChange(epoch, c) }
	subID, err := a.remote.Subscribe(ctx, remote.Reactions, remote.In("message_id", ids...), remote.ChangeHandlers{
		OnInsert: handler,
		OnDelete: handler,
	})
	if err != nil {
		return errors.Wrap(err, "subscribe reactions")
	}

	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		_ = a.remote.Unsubscribe(ctx, subID)
		return nil
	}
	a.subID = subID
	a.mu.Unlock()

	return a.refresh(ctx, epoch)
}

func (a *Aggregator) onChange(epoch uint64, c remote.Change) {
	a.mu.Lock()
	current := a.epoch == epoch && contains(a.ids, c.Row().String("message_id"))
	a.mu.Unlock()
	if !current {
		metrics.StaleEvents.WithLabelValues("reactions").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.eventTimeout)
	defer cancel()
	if err := a.refresh(ctx, epoch); err != nil {
		a.logger.Warn().Err(err).Msg("reaction refresh failed")
	}
}

// Refresh refetches every reaction of the tracked set.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	epoch := a.epoch
	a.mu.Unlock()
	return a.refresh(ctx, epoch)
}

// refresh refetches the tracked set. Refreshes may finish out of order, so a
// result is only applied when no later-started refresh has been applied.
func (a *Aggregator) refresh(ctx context.Context, epoch uint64) error {
	a.mu.Lock()
	ids := a.ids
	a.seq++
	seq := a.seq
	a.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	rows, err := a.remote.FetchMany(ctx, remote.Reactions, remote.In("message_id", ids...),
		remote.ListOptions{OrderBy: "created_at"})
	if err != nil {
		return errors.Wrap(err, "load reactions")
	}
	list, err := models.DecodeAll[models.Reaction](rows)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch || seq < a.applied {
		return nil
	}
	a.applied = seq
	a.reactions = list
	a.summaries = summarize(list, a.userID)
	return nil
}

func summarize(list []models.Reaction, userID string) map[string][]models.ReactionSummary {
	type group struct {
		summary models.ReactionSummary
		first   time.Time
	}
	byMessage := make(map[string]map[string]*group)
	for _, r := range list {
		groups, ok := byMessage[r.MessageID]
		if !ok {
			groups = make(map[string]*group)
			byMessage[r.MessageID] = groups
		}
		g, ok := groups[r.Emoji]
		if !ok {
			g = &group{summary: models.ReactionSummary{Emoji: r.Emoji}, first: r.CreatedAt}
			groups[r.Emoji] = g
		}
		g.summary.Count++
		g.summary.ReactorIDs = append(g.summary.ReactorIDs, r.UserID)
		if r.UserID == userID {
			g.summary.HasCurrentUserReacted = true
		}
		if r.CreatedAt.Before(g.first) {
			g.first = r.CreatedAt
		}
	}

	out := make(map[string][]models.ReactionSummary, len(byMessage))
	for msgID, groups := range byMessage {
		ordered := make([]*group, 0, len(groups))
		for _, g := range groups {
			ordered = append(ordered, g)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if !ordered[i].first.Equal(ordered[j].first) {
				return ordered[i].first.Before(ordered[j].first)
			}
			return ordered[i].summary.Emoji < ordered[j].summary.Emoji
		})
		summaries := make([]models.ReactionSummary, len(ordered))
		for i, g := range ordered {
			summaries[i] = g.summary
		}
		out[msgID] = summaries
	}
	return out
}

// Toggle removes the user's emoji on msgID if present, otherwise adds it.
// Toggles of the same (message, emoji) are serialized.
func (a *Aggregator) Toggle(ctx context.Context, msgID, emoji string) (Outcome, error) {
	unlock := a.lock(msgID + "\x00" + emoji)
	defer unlock()

	reaction := models.Reaction{MessageID: msgID, UserID: a.userID, Emoji: emoji}
	var outcome Outcome
	if a.hasReacted(msgID, emoji) {
		filter := remote.Eq("message_id", msgID).
			And(remote.Eq("user_id", a.userID)).
			And(remote.Eq("emoji", emoji))
		if _, err := a.remote.Delete(ctx, remote.Reactions, filter); err != nil {
			return "", errors.Wrap(err, "remove reaction")
		}
		outcome = Removed
	} else {
		_, err := a.remote.Insert(ctx, remote.Reactions, reaction.ToRecord())
		switch {
		case errors.Is(err, remote.ErrConflict):
			outcome = Conflict
		case err != nil:
			return "", errors.Wrap(err, "add reaction")
		default:
			outcome = Added
		}
	}
	metrics.ReactionToggles.WithLabelValues(string(outcome)).Inc()

	if err := a.Refresh(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("reaction refresh after toggle failed")
	}
	return outcome, nil
}

func (a *Aggregator) hasReacted(msgID, emoji string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.reactions {
		if r.MessageID == msgID && r.Emoji == emoji && r.UserID == a.userID {
			return true
		}
	}
	return false
}

func (a *Aggregator) lock(key string) func() {
	a.locksMu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &keyLock{}
		a.locks[key] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, key)
		}
		a.locksMu.Unlock()
	}
}

// Summaries returns the summaries of msgID ordered by first reaction.
func (a *Aggregator) Summaries(msgID string) []models.ReactionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := a.summaries[msgID]
	out := make([]models.ReactionSummary, len(src))
	for i, s := range src {
		s.ReactorIDs = append([]string(nil), s.ReactorIDs...)
		out[i] = s
	}
	return out
}

// Close drops the subscription and the tracked set.
func (a *Aggregator) Close(ctx context.Context) {
	if err := a.SetMessages(ctx, nil); err != nil {
		a.logger.Debug().Err(err).Msg("reaction teardown failed")
	}
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(ids []string, id string) bool {
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}
