// Package presence tracks which users are online and their announced status.
package presence

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

// Key is the presence channel every session joins.
const Key = "user_presence"

// DefaultHeartbeat is how often the current status is re-announced.
const DefaultHeartbeat = 30 * time.Second

// ErrInvalidStatus is returned by SetStatus for unknown statuses.
var ErrInvalidStatus = errors.New("invalid presence status")

// Tracker owns the online set and the presence records of one session.
type Tracker struct {
	remote    remote.Remote
	logger    zerolog.Logger
	userID    string
	heartbeat time.Duration

	mu         sync.RWMutex
	username   string
	status     models.PresenceStatus
	online     map[string]struct{}
	records    map[string]models.PresenceRecord
	usernames  map[string]string
	presenceID remote.PresenceID
	subID      remote.SubscriptionID
	running    bool
	stop       chan struct{}
	done       chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.heartbeat = d
		}
	}
}

// New creates a tracker for userID.
func New(r remote.Remote, userID string, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		remote:    r,
		logger:    logger.With().Str("component", "presence").Logger(),
		userID:    userID,
		heartbeat: DefaultHeartbeat,
		status:    models.StatusOnline,
		online:    make(map[string]struct{}),
		records:   make(map[string]models.PresenceRecord),
		usernames: make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetUsername sets the name announced with the tracked presence state.
func (t *Tracker) SetUsername(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.username = name
	t.usernames[t.userID] = name
}

// Start announces the session online, joins the presence key, loads the
// current records and starts the heartbeat. Starting twice is a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.status = models.StatusOnline
	username := t.username
	t.mu.Unlock()

	if err := t.announce(ctx, models.StatusOnline); err != nil {
		t.setStopped()
		return err
	}

	subID, err := t.remote.Subscribe(ctx, remote.UserPresence, nil, remote.ChangeHandlers{
		OnInsert: t.applyChange,
		OnUpdate: t.applyChange,
	})
	if err != nil {
		t.setStopped()
		return errors.Wrap(err, "subscribe presence records")
	}

	presenceID, err := t.remote.TrackPresence(ctx, Key, remote.Record{
		"user_id":   t.userID,
		"username":  username,
		"online_at": time.Now().UTC(),
	}, remote.PresenceHandlers{
		OnJoin:  t.join,
		OnLeave: t.leave,
		OnSync:  t.sync,
	})
	if err != nil {
		_ = t.remote.Unsubscribe(ctx, subID)
		t.setStopped()
		return errors.Wrap(err, "track presence")
	}

	rows, err := t.remote.FetchMany(ctx, remote.UserPresence, nil, remote.ListOptions{})
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to load presence records")
	}
	for _, row := range rows {
		t.applyRecord(row)
	}

	t.mu.Lock()
	t.subID = subID
	t.presenceID = presenceID
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	go t.loop(stop, done)
	return nil
}

func (t *Tracker) setStopped() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *Tracker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.RLock()
			status := t.status
			t.mu.RUnlock()

			ctx, cancel := context.WithTimeout(context.Background(), t.heartbeat)
			if err := t.announce(ctx, status); err != nil {
				t.logger.Warn().Err(err).Msg("presence heartbeat failed")
			}
			cancel()
		}
	}
}

func (t *Tracker) announce(ctx context.Context, status models.PresenceStatus) error {
	_, err := t.remote.CallProcedure(ctx, remote.ProcUpdatePresence, remote.Record{
		"user_id": t.userID,
		"status":  string(status),
	})
	return errors.Wrap(err, "announce presence")
}

// SetStatus announces an explicit status. Heartbeats keep announcing it.
func (t *Tracker) SetStatus(ctx context.Context, status models.PresenceStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := t.announce(ctx, status); err != nil {
		return err
	}
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
	return nil
}

// Status returns the status this session announces.
func (t *Tracker) Status() models.PresenceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Stop ends the heartbeat, announces offline on a best-effort basis and
// leaves the presence key.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	stop, done := t.stop, t.done
	subID, presenceID := t.subID, t.presenceID
	t.subID, t.presenceID = "", ""
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if err := t.announce(ctx, models.StatusOffline); err != nil {
		t.logger.Debug().Err(err).Msg("offline announcement failed")
	}
	if presenceID != "" {
		if err := t.remote.Untrack(ctx, presenceID); err != nil {
			t.logger.Debug().Err(err).Msg("untrack failed")
		}
	}
	if subID != "" {
		if err := t.remote.Unsubscribe(ctx, subID); err != nil {
			t.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
}

func (t *Tracker) join(key string, state remote.Record) {
	metrics.PresenceEvents.WithLabelValues("join").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[key] = struct{}{}
	if name := state.String("username"); name != "" {
		t.usernames[key] = name
	}
}

func (t *Tracker) leave(key string) {
	metrics.PresenceEvents.WithLabelValues("leave").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, key)
}

func (t *Tracker) sync(states map[string]remote.Record) {
	metrics.PresenceEvents.WithLabelValues("sync").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{}, len(states))
	for key, state := range states {
		t.online[key] = struct{}{}
		if name := state.String("username"); name != "" {
			t.usernames[key] = name
		}
	}
}

func (t *Tracker) applyChange(c remote.Change) {
	t.applyRecord(c.New)
}

func (t *Tracker) applyRecord(rec remote.Record) {
	p, err := models.Decode[models.PresenceRecord](rec)
	if err != nil || p.UserID == "" {
		t.logger.Debug().Err(err).Msg("ignoring malformed presence record")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.records[p.UserID]; ok && prev.LastSeen.After(p.LastSeen) {
		return
	}
	t.records[p.UserID] = p
}

// OnlineUserIDs returns the sorted ids of users currently tracked online.
func (t *Tracker) OnlineUserIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether userID is tracked online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Records returns the known presence records with usernames, sorted by user id.
func (t *Tracker) Records() []models.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.PresenceRecord, 0, len(t.records))
	for id, rec := range t.records {
		if rec.Username == "" {
			rec.Username = t.usernames[id]
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
