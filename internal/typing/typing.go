// Package typing tracks who is composing a message in the active channel.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/metrics"
	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

const (
	// DefaultExpiry is how long a typing signal lives without a refresh.
	DefaultExpiry = 5 * time.Second
	// DefaultCleanupInterval is how often stale signals are purged remotely.
	DefaultCleanupInterval = 10 * time.Second
)

// ErrNoChannel is returned when typing is signalled without an active channel.
var ErrNoChannel = errors.New("no active channel")

// Entry is a user currently typing.
type Entry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`

	updatedAt time.Time
}

// Timer is the subset of *time.Timer the tracker uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Tracker owns the typing users of the active channel.
type Tracker struct {
	remote  remote.Remote
	logger  zerolog.Logger
	userID  string
	expiry  time.Duration
	cleanup time.Duration
	now     func() time.Time
	after   AfterFunc

	mu        sync.Mutex
	username  string
	channelID string
	epoch     uint64
	users     []Entry
	subID     remote.SubscriptionID
	timer     Timer
	typingIn  string
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithExpiry overrides the typing signal lifetime.
func WithExpiry(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.expiry = d
		}
	}
}

// WithCleanupInterval overrides the remote cleanup interval.
func WithCleanupInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cleanup = d
		}
	}
}

// WithClock overrides the time source and timer factory.
func WithClock(now func() time.Time, after AfterFunc) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
		if after != nil {
			t.after = after
		}
	}
}

// New creates a tracker for userID.
func New(r remote.Remote, userID string, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		remote:  r,
		logger:  logger.With().Str("component", "typing").Logger(),
		userID:  userID,
		expiry:  DefaultExpiry,
		cleanup: DefaultCleanupInterval,
		now:     time.Now,
		after:   realAfterFunc,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetUsername sets the name published with typing signals.
func (t *Tracker) SetUsername(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.username = name
}

// Start begins the periodic remote cleanup. Starting twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

func (t *Tracker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.cleanup)
			if err := t.Cleanup(ctx); err != nil {
				t.logger.Warn().Err(err).Msg("typing cleanup failed")
			}
			cancel()
		}
	}
}

// Cleanup asks the backend to purge stale signals. Safe to run from any
// number of sessions at once.
func (t *Tracker) Cleanup(ctx context.Context) error {
	_, err := t.remote.CallProcedure(ctx, remote.ProcCleanupTyping, nil)
	return errors.Wrap(err, "cleanup typing indicators")
}

// SetChannel moves the tracker to channelID. Events of the previous channel
// are discarded from then on and its subscription is closed. An empty id
// only tears down the previous scope.
func (t *Tracker) SetChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	if t.channelID == channelID && (channelID == "" || t.subID != "") {
		t.mu.Unlock()
		return nil
	}
	t.epoch++
	epoch := t.epoch
	prevSub := t.subID
	prevTyping := t.typingIn
	t.channelID = channelID
	t.users = nil
	t.subID = ""
	t.typingIn = ""
	t.stopTimerLocked()
	t.mu.Unlock()

	t.teardown(ctx, prevSub, prevTyping)
	if channelID == "" {
		return nil
	}

	handler := func(c remote.Change) { t.apply(epoch, channelID, c) }
	subID, err := t.remote.Subscribe(ctx, remote.TypingIndicators, remote.Eq("channel_id", channelID), remote.ChangeHandlers{
		OnInsert: handler,
		OnUpdate: handler,
		OnDelete: handler,
	})
	if err != nil {
		return errors.Wrap(err, "subscribe typing indicators")
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		_ = t.remote.Unsubscribe(ctx, subID)
		return nil
	}
	t.subID = subID
	t.mu.Unlock()

	rows, err := t.remote.FetchMany(ctx, remote.TypingIndicators, remote.Eq("channel_id", channelID),
		remote.ListOptions{OrderBy: "updated_at"})
	if err != nil {
		return errors.Wrap(err, "load typing indicators")
	}
	for _, row := range rows {
		t.apply(epoch, channelID, remote.Change{Collection: remote.TypingIndicators, Type: remote.ChangeInsert, New: row})
	}
	return nil
}

func (t *Tracker) teardown(ctx context.Context, subID remote.SubscriptionID, typingIn string) {
	if subID != "" {
		if err := t.remote.Unsubscribe(ctx, subID); err != nil {
			t.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
	if typingIn != "" {
		if _, err := t.remote.Delete(ctx, remote.TypingIndicators, t.signalFilter(typingIn)); err != nil {
			t.logger.Debug().Err(err).Msg("failed to clear typing signal")
		}
	}
}

func (t *Tracker) signalFilter(channelID string) remote.Filter {
	return remote.Eq("channel_id", channelID).And(remote.Eq("user_id", t.userID))
}

func (t *Tracker) apply(epoch uint64, channelID string, c remote.Change) {
	rec, err := models.Decode[models.TypingRecord](c.Row())
	if err != nil {
		t.logger.Debug().Err(err).Msg("ignoring malformed typing signal")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch || rec.ChannelID != channelID {
		metrics.StaleEvents.WithLabelValues("typing").Inc()
		return
	}
	metrics.TypingEvents.WithLabelValues(string(c.Type)).Inc()
	if rec.UserID == t.userID {
		return
	}

	idx := -1
	for i, e := range t.users {
		if e.UserID == rec.UserID {
			idx = i
			break
		}
	}
	if c.Type == remote.ChangeDelete {
		if idx >= 0 {
			t.users = append(t.users[:idx], t.users[idx+1:]...)
		}
		return
	}
	entry := Entry{UserID: rec.UserID, Username: rec.Username, updatedAt: rec.UpdatedAt}
	if idx >= 0 {
		t.users[idx] = entry
		return
	}
	t.users = append(t.users, entry)
}

// StartTyping publishes a typing signal and arms the auto-clear timer.
// Repeated calls refresh the signal and reset the timer.
func (t *Tracker) StartTyping(ctx context.Context) error {
	t.mu.Lock()
	channelID, username := t.channelID, t.username
	t.mu.Unlock()
	if channelID == "" {
		return ErrNoChannel
	}

	_, err := t.remote.Upsert(ctx, remote.TypingIndicators, models.TypingRecord{
		UserID:    t.userID,
		Username:  username,
		ChannelID: channelID,
		UpdatedAt: t.now().UTC(),
	}.ToRecord())
	if err != nil {
		return errors.Wrap(err, "start typing")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channelID != channelID {
		return nil
	}
	t.typingIn = channelID
	t.stopTimerLocked()
	t.timer = t.after(t.expiry, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.expiry)
		defer cancel()
		if err := t.stopTyping(ctx, channelID); err != nil {
			t.logger.Debug().Err(err).Msg("auto-clear failed")
		}
	})
	return nil
}

// StopTyping clears the typing signal and cancels the auto-clear timer.
func (t *Tracker) StopTyping(ctx context.Context) error {
	t.mu.Lock()
	channelID := t.channelID
	t.mu.Unlock()
	if channelID == "" {
		return nil
	}
	return t.stopTyping(ctx, channelID)
}

func (t *Tracker) stopTyping(ctx context.Context, channelID string) error {
	t.mu.Lock()
	if t.typingIn == channelID {
		t.typingIn = ""
	}
	t.stopTimerLocked()
	t.mu.Unlock()

	_, err := t.remote.Delete(ctx, remote.TypingIndicators, t.signalFilter(channelID))
	return errors.Wrap(err, "stop typing")
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// IsTyping reports whether this session has a live typing signal.
func (t *Tracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingIn != ""
}

// Users returns the other users typing in the active channel, in the order
// they started. Signals older than the expiry window are left out.
func (t *Tracker) Users() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.expiry)
	out := make([]Entry, 0, len(t.users))
	for _, e := range t.users {
		if !e.updatedAt.IsZero() && e.updatedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Close stops the cleanup loop, clears this session's signal and closes the
// channel subscription.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if err := t.SetChannel(ctx, ""); err != nil {
		t.logger.Debug().Err(err).Msg("typing teardown failed")
	}
}
