// Package chat is the session core of Kingdom Chat: it reconciles the local
// channel, message and profile view with the remote backend and enforces
// rank-gated access and decree quotas.
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/metrics"
	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/presence"
	"github.com/Fidelis900/crown-commune/internal/reactions"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/typing"
)

// State is the lifecycle stage of a Controller.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateLoadingProfile   State = "loading_profile"
	StateLoadingChannels  State = "loading_channels"
	StateLoadingMessages  State = "loading_messages"
	StateReady            State = "ready"
	StateChannelSwitching State = "channel_switching"
)

const (
	// DefaultWindowSize is how many recent messages are kept per channel.
	DefaultWindowSize = 50
	// DefaultEventTimeout bounds remote calls made while handling realtime events.
	DefaultEventTimeout = 10 * time.Second
)

// DecreeSentNotice is shown after a decree and its counter update succeed.
const DecreeSentNotice = "Royal decree sent!"

var errCounterMismatch = errors.New("decree counter changed concurrently")

// Config holds the session settings.
type Config struct {
	UserID        string
	WindowSize    int
	EventTimeout  time.Duration
	Heartbeat     time.Duration
	TypingExpiry  time.Duration
	TypingCleanup time.Duration
}

// Draft is an outgoing message.
type Draft struct {
	Content   string
	IsDecree  bool
	ReplyToID string
}

// Controller owns the session of one user.
type Controller struct {
	remote    remote.Remote
	logger    zerolog.Logger
	cfg       Config
	profiles  *ProfileCache
	presence  *presence.Tracker
	typing    *typing.Tracker
	reactions *reactions.Aggregator
	notify    NoticeFunc

	sendMu sync.Mutex

	mu             sync.RWMutex
	state          State
	user           models.UserView
	hasUser        bool
	channels       []models.Channel
	activeID       string
	epoch          uint64
	window         []models.Message
	msgSub         remote.SubscriptionID
	profileSub     remote.SubscriptionID
	needsReconcile bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotices registers the notice listener.
func WithNotices(fn NoticeFunc) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithProfileCache shares an existing profile cache.
func WithProfileCache(p *ProfileCache) Option {
	return func(c *Controller) { c.profiles = p }
}

// WithPresence injects the presence tracker.
func WithPresence(p *presence.Tracker) Option {
	return func(c *Controller) { c.presence = p }
}

// WithTyping injects the typing tracker.
func WithTyping(t *typing.Tracker) Option {
	return func(c *Controller) { c.typing = t }
}

// WithReactions injects the reaction aggregator.
func WithReactions(a *reactions.Aggregator) Option {
	return func(c *Controller) { c.reactions = a }
}

// New creates a controller. Trackers that are not injected are built from cfg.
func New(r remote.Remote, cfg Config, logger zerolog.Logger, opts ...Option) *Controller {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	c := &Controller{
		remote: r,
		logger: logger.With().Str("component", "chat").Str("user_id", cfg.UserID).Logger(),
		cfg:    cfg,
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.profiles == nil {
		c.profiles = NewProfileCache(r, logger)
	}
	if c.presence == nil {
		c.presence = presence.New(r, cfg.UserID, logger, presence.WithHeartbeat(cfg.Heartbeat))
	}
	if c.typing == nil {
		c.typing = typing.New(r, cfg.UserID, logger,
			typing.WithExpiry(cfg.TypingExpiry), typing.WithCleanupInterval(cfg.TypingCleanup))
	}
	if c.reactions == nil {
		c.reactions = reactions.New(r, cfg.UserID, logger, reactions.WithEventTimeout(cfg.EventTimeout))
	}
	return c
}

// Start loads the profile and channel catalog, starts the trackers and opens
// the first visible channel. Without a user id it fails with
// ErrNotAuthenticated and the controller stays uninitialized.
func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.UserID == "" {
		return c.deny(ErrNotAuthenticated)
	}
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoadingProfile
	c.mu.Unlock()

	p, err := c.profiles.Fetch(ctx, c.cfg.UserID)
	if err != nil {
		c.setState(StateUninitialized)
		return c.fail(errors.Wrap(err, "load own profile"))
	}
	view := models.NewUserView(p)
	c.mu.Lock()
	c.user = view
	c.hasUser = true
	c.state = StateLoadingChannels
	c.mu.Unlock()
	c.presence.SetUsername(view.Username)
	c.typing.SetUsername(view.Username)

	profileSub, err := c.remote.Subscribe(ctx, remote.Profiles, remote.Eq("user_id", c.cfg.UserID), remote.ChangeHandlers{
		OnInsert: c.onProfile,
		OnUpdate: c.onProfile,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("own profile updates unavailable")
	}

	rows, err := c.remote.FetchMany(ctx, remote.Channels, nil, remote.ListOptions{OrderBy: "min_rank_level"})
	if err != nil {
		if profileSub != "" {
			if uerr := c.remote.Unsubscribe(ctx, profileSub); uerr != nil {
				c.logger.Debug().Err(uerr).Msg("unsubscribe failed")
			}
		}
		c.mu.Lock()
		c.hasUser = false
		c.state = StateUninitialized
		c.mu.Unlock()
		return c.fail(errors.Wrap(err, "load channels"))
	}
	channels := make([]models.Channel, 0, len(rows))
	for _, row := range rows {
		ch, err := models.ChannelFromRecord(row)
		if err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed channel")
			continue
		}
		channels = append(channels, ch)
	}

	c.mu.Lock()
	c.profileSub = profileSub
	c.channels = channels
	visible := VisibleChannels(channels, c.user)
	c.mu.Unlock()

	if err := c.presence.Start(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("presence unavailable")
	}
	c.typing.Start()

	if len(visible) == 0 {
		c.setState(StateReady)
		return nil
	}
	return c.openChannel(ctx, visible[0].ID, false)
}

// openChannel makes channelID active: it drops the previous scope,
// subscribes to the new channel before loading its window so that no insert
// between load and subscribe is lost, and merges both paths by id.
func (c *Controller) openChannel(ctx context.Context, channelID string, switching bool) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	prevSub := c.msgSub
	c.msgSub = ""
	c.activeID = channelID
	c.window = nil
	if switching {
		c.state = StateChannelSwitching
	} else {
		c.state = StateLoadingMessages
	}
	c.mu.Unlock()

	if prevSub != "" {
		if err := c.remote.Unsubscribe(ctx, prevSub); err != nil {
			c.logger.Debug().Err(err).Msg("unsubscribe messages failed")
		}
	}
	if err := c.reactions.SetMessages(ctx, nil); err != nil {
		c.logger.Debug().Err(err).Msg("reaction reset failed")
	}
	if err := c.typing.SetChannel(ctx, channelID); err != nil {
		c.logger.Warn().Err(err).Str("channel_id", channelID).Msg("typing unavailable")
	}
	if channelID == "" {
		c.setState(StateReady)
		return nil
	}

	handler := func(ch remote.Change) { c.onMessage(epoch, channelID, ch) }
	subID, err := c.remote.Subscribe(ctx, remote.Messages, remote.Eq("channel_id", channelID), remote.ChangeHandlers{
		OnInsert: handler,
		OnUpdate: handler,
	})
	if err != nil {
		return c.fail(errors.Wrap(err, "subscribe messages"))
	}
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = c.remote.Unsubscribe(ctx, subID)
		return nil
	}
	c.msgSub = subID
	c.mu.Unlock()

	rows, err := c.remote.FetchMany(ctx, remote.Messages, remote.Eq("channel_id", channelID),
		remote.ListOptions{OrderBy: "created_at", Descending: true, Limit: c.cfg.WindowSize})
	if err != nil {
		return c.fail(errors.Wrapf(err, "load messages of %s", channelID))
	}
	msgs, err := models.DecodeAll[models.Message](rows)
	if err != nil {
		return c.fail(err)
	}
	authorIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		authorIDs = append(authorIDs, m.AuthorID)
	}
	authors := c.profiles.ResolveMany(ctx, authorIDs)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		metrics.StaleEvents.WithLabelValues("messages").Inc()
		return nil
	}
	for _, m := range msgs {
		m.Author = authors[m.AuthorID]
		c.mergeLocked(m, true)
	}
	c.state = StateReady
	ids := c.windowIDsLocked()
	c.mu.Unlock()

	if switching {
		metrics.ChannelSwitches.Inc()
	}
	if err := c.reactions.SetMessages(ctx, ids); err != nil {
		c.logger.Warn().Err(err).Msg("reactions unavailable")
	}
	return nil
}

func (c *Controller) onMessage(epoch uint64, channelID string, ch remote.Change) {
	m, err := models.Decode[models.Message](ch.New)
	if err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed message event")
		return
	}
	if !c.inScope(epoch, channelID, m.ChannelID) {
		metrics.StaleEvents.WithLabelValues("messages").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EventTimeout)
	defer cancel()
	if ch.Type == remote.ChangeInsert {
		m.Author = c.profiles.Resolve(ctx, m.AuthorID)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		metrics.StaleEvents.WithLabelValues("messages").Inc()
		return
	}
	added := c.mergeLocked(m, ch.Type == remote.ChangeInsert)
	ids := c.windowIDsLocked()
	c.mu.Unlock()

	if added {
		if err := c.reactions.SetMessages(ctx, ids); err != nil {
			c.logger.Warn().Err(err).Msg("reaction resubscribe failed")
		}
	}
}

func (c *Controller) inScope(epoch uint64, channelID, eventChannel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch == epoch && c.activeID == channelID && eventChannel == channelID
}

// mergeLocked places m in the window by (CreatedAt, ID). A message already
// present is replaced in place, keeping its author when m has none. When
// insert is false unknown messages are ignored. It reports whether the
// window gained a message.
func (c *Controller) mergeLocked(m models.Message, insert bool) bool {
	for i := range c.window {
		if c.window[i].ID != m.ID {
			continue
		}
		if m.Author.ID == "" {
			m.Author = c.window[i].Author
		}
		c.window[i] = m
		return false
	}
	if !insert {
		return false
	}
	idx := sort.Search(len(c.window), func(i int) bool { return m.Before(c.window[i]) })
	c.window = append(c.window, models.Message{})
	copy(c.window[idx+1:], c.window[idx:])
	c.window[idx] = m
	if over := len(c.window) - c.cfg.WindowSize; over > 0 {
		c.window = append([]models.Message(nil), c.window[over:]...)
		return idx >= over
	}
	return true
}

func (c *Controller) windowIDsLocked() []string {
	ids := make([]string, len(c.window))
	for i, m := range c.window {
		ids[i] = m.ID
	}
	return ids
}

func (c *Controller) onProfile(ch remote.Change) {
	p, err := models.Decode[models.Profile](ch.New)
	if err != nil || p.UserID != c.cfg.UserID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EventTimeout)
	defer cancel()
	c.applyProfile(ctx, p)
}

// applyProfile installs an authoritative profile. A rank change that hides
// the active channel moves the session to the first visible channel.
func (c *Controller) applyProfile(ctx context.Context, p models.Profile) {
	view := c.profiles.Put(p)

	c.mu.Lock()
	c.user = view
	c.needsReconcile = false
	for i := range c.window {
		if c.window[i].AuthorID == view.ID {
			c.window[i].Author = view
		}
	}
	visible := VisibleChannels(c.channels, view)
	target, move := c.activeID, false
	if c.activeID != "" && !containsChannel(visible, c.activeID) {
		move = true
		target = ""
		if len(visible) > 0 {
			target = visible[0].ID
		}
	} else if c.activeID == "" && len(visible) > 0 && c.state == StateReady {
		move = true
		target = visible[0].ID
	}
	c.mu.Unlock()

	c.presence.SetUsername(view.Username)
	c.typing.SetUsername(view.Username)
	if move {
		c.logger.Info().Str("channel_id", target).Str("rank", view.Rank.Name).Msg("rank change moved active channel")
		if err := c.openChannel(ctx, target, true); err != nil {
			c.logger.Warn().Err(err).Msg("channel move after rank change failed")
		}
	}
}

func containsChannel(list []models.Channel, id string) bool {
	for _, ch := range list {
		if ch.ID == id {
			return true
		}
	}
	return false
}

// ReconcileProfile refetches the own profile so the remote decree counter
// wins over the local one.
func (c *Controller) ReconcileProfile(ctx context.Context) error {
	c.profiles.Invalidate(c.cfg.UserID)
	p, err := c.profiles.Fetch(ctx, c.cfg.UserID)
	if err != nil {
		return errors.Wrap(err, "reconcile profile")
	}
	c.applyProfile(ctx, p)
	return nil
}

// SelectChannel switches the active channel. Channels above the user's rank
// are rejected and the active channel is left unchanged.
func (c *Controller) SelectChannel(ctx context.Context, channelID string) error {
	c.mu.RLock()
	hasUser, user, activeID, state := c.hasUser, c.user, c.activeID, c.state
	var target *models.Channel
	for i := range c.channels {
		if c.channels[i].ID == channelID {
			ch := c.channels[i]
			target = &ch
			break
		}
	}
	c.mu.RUnlock()

	if !hasUser {
		return c.deny(ErrNotAuthenticated)
	}
	if target == nil {
		return c.deny(ErrUnknownChannel)
	}
	if !CanSelect(*target, user) {
		return c.deny(ErrRankTooLow)
	}
	if channelID == activeID && state == StateReady {
		return nil
	}
	return c.openChannel(ctx, channelID, true)
}

// SendMessage posts content to the active channel.
func (c *Controller) SendMessage(ctx context.Context, content string, isDecree bool) (models.Message, error) {
	return c.Send(ctx, Draft{Content: content, IsDecree: isDecree})
}

// Send posts a draft to the active channel. A decree needs a VIP rank with
// quota left; its counter is incremented only after the remote counter
// update succeeds.
func (c *Controller) Send(ctx context.Context, d Draft) (models.Message, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.RLock()
	hasUser, activeID, epoch, reconcile := c.hasUser, c.activeID, c.epoch, c.needsReconcile
	c.mu.RUnlock()

	if !hasUser {
		return models.Message{}, c.deny(ErrNotAuthenticated)
	}
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return models.Message{}, c.deny(ErrEmptyContent)
	}
	if activeID == "" {
		return models.Message{}, c.deny(ErrNoActiveChannel)
	}
	if d.IsDecree && reconcile {
		if err := c.ReconcileProfile(ctx); err != nil {
			return models.Message{}, c.fail(err)
		}
	}

	c.mu.RLock()
	user := c.user
	c.mu.RUnlock()
	if d.IsDecree && !user.CanIssueDecree() {
		return models.Message{}, c.deny(ErrNoDecreesRemaining)
	}

	draft := models.Message{
		ChannelID: activeID,
		AuthorID:  user.ID,
		Content:   content,
		IsDecree:  d.IsDecree,
		ReplyToID: d.ReplyToID,
	}
	row, err := c.remote.Insert(ctx, remote.Messages, draft.ToRecord())
	if err != nil {
		return models.Message{}, c.fail(errors.Wrap(err, "send message"))
	}
	msg, err := models.Decode[models.Message](row)
	if err != nil {
		return models.Message{}, c.fail(err)
	}
	msg.Author = user

	c.mu.Lock()
	var ids []string
	added := false
	if c.epoch == epoch && c.activeID == activeID {
		added = c.mergeLocked(msg, true)
		ids = c.windowIDsLocked()
	}
	c.mu.Unlock()
	if added {
		if err := c.reactions.SetMessages(ctx, ids); err != nil {
			c.logger.Warn().Err(err).Msg("reaction resubscribe failed")
		}
	}

	if !d.IsDecree {
		metrics.MessagesSent.WithLabelValues("message").Inc()
		return msg, nil
	}
	metrics.MessagesSent.WithLabelValues("decree").Inc()
	if err := c.incrementDecrees(ctx, user.DecreeCount); err != nil {
		metrics.DecreeCounterFailures.Inc()
		c.mu.Lock()
		c.needsReconcile = true
		c.mu.Unlock()
		dcErr := &DecreeCounterError{MessageID: msg.ID, Err: err}
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("decree counter update failed")
		c.emit(Notice{Kind: NoticeError, Message: dcErr.Error()})
		return msg, dcErr
	}
	c.emit(Notice{Kind: NoticeSuccess, Message: DecreeSentNotice})
	return msg, nil
}

// incrementDecrees moves the remote counter from used to used+1 and only
// then mirrors it locally.
func (c *Controller) incrementDecrees(ctx context.Context, used int) error {
	filter := remote.Eq("user_id", c.cfg.UserID).And(remote.Eq("decrees_used", used))
	n, err := c.remote.Update(ctx, remote.Profiles, filter, remote.Record{"decrees_used": used + 1})
	if err != nil {
		return errors.Wrap(err, "update decree counter")
	}
	if n == 0 {
		return errCounterMismatch
	}

	c.mu.Lock()
	if c.user.DecreeCount < used+1 {
		c.user.DecreeCount = used + 1
	}
	view := c.user
	c.mu.Unlock()
	c.profiles.putView(view)
	return nil
}

// EditMessage replaces the content of one of the user's messages. Unchanged
// content makes no remote call.
func (c *Controller) EditMessage(ctx context.Context, messageID, content string) error {
	msg, user, err := c.ownMessage(messageID)
	if err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return c.deny(ErrEmptyContent)
	}
	if content == msg.Content {
		return nil
	}

	editedAt := time.Now().UTC()
	filter := remote.Eq("id", messageID).And(remote.Eq("user_id", user.ID))
	n, err := c.remote.Update(ctx, remote.Messages, filter, remote.Record{
		"content":   content,
		"edited_at": editedAt,
	})
	if err != nil {
		return c.fail(errors.Wrap(err, "edit message"))
	}
	if n == 0 {
		return c.deny(ErrNotAuthor)
	}
	metrics.MessagesEdited.Inc()

	c.updateLocal(messageID, func(m *models.Message) {
		m.Content = content
		m.EditedAt = &editedAt
	})
	return nil
}

// DeleteMessage soft-deletes one of the user's messages.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	_, user, err := c.ownMessage(messageID)
	if err != nil {
		return err
	}
	filter := remote.Eq("id", messageID).And(remote.Eq("user_id", user.ID))
	n, err := c.remote.Update(ctx, remote.Messages, filter, remote.Record{"is_deleted": true})
	if err != nil {
		return c.fail(errors.Wrap(err, "delete message"))
	}
	if n == 0 {
		return c.deny(ErrNotAuthor)
	}
	metrics.MessagesDeleted.Inc()

	c.updateLocal(messageID, func(m *models.Message) { m.IsDeleted = true })
	return nil
}

func (c *Controller) ownMessage(messageID string) (models.Message, models.UserView, error) {
	c.mu.RLock()
	hasUser, user := c.hasUser, c.user
	msg, found := c.findLocked(messageID)
	c.mu.RUnlock()

	if !hasUser {
		return models.Message{}, user, c.deny(ErrNotAuthenticated)
	}
	if !found || msg.IsDeleted {
		return models.Message{}, user, c.deny(ErrUnknownMessage)
	}
	if msg.AuthorID != user.ID {
		return models.Message{}, user, c.deny(ErrNotAuthor)
	}
	return msg, user, nil
}

func (c *Controller) findLocked(messageID string) (models.Message, bool) {
	for _, m := range c.window {
		if m.ID == messageID {
			return m, true
		}
	}
	return models.Message{}, false
}

func (c *Controller) updateLocal(messageID string, mutate func(*models.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.window {
		if c.window[i].ID == messageID {
			mutate(&c.window[i])
			return
		}
	}
}

// ToggleReaction adds the emoji to a visible message or removes it when the
// user already reacted with it.
func (c *Controller) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	c.mu.RLock()
	hasUser := c.hasUser
	_, found := c.findLocked(messageID)
	c.mu.RUnlock()

	if !hasUser {
		return c.deny(ErrNotAuthenticated)
	}
	if !found {
		return c.deny(ErrUnknownMessage)
	}
	if strings.TrimSpace(emoji) == "" {
		return c.deny(ErrEmptyContent)
	}
	if _, err := c.reactions.Toggle(ctx, messageID, emoji); err != nil {
		return c.fail(err)
	}
	return nil
}

// SetStatus announces an explicit presence status.
func (c *Controller) SetStatus(ctx context.Context, status models.PresenceStatus) error {
	if err := c.presence.SetStatus(ctx, status); err != nil {
		if errors.Is(err, presence.ErrInvalidStatus) {
			return err
		}
		return c.fail(err)
	}
	return nil
}

// StartTyping signals that the user is composing in the active channel.
func (c *Controller) StartTyping(ctx context.Context) error {
	if err := c.typing.StartTyping(ctx); err != nil {
		if errors.Is(err, typing.ErrNoChannel) {
			return c.deny(ErrNoActiveChannel)
		}
		return c.fail(err)
	}
	return nil
}

// StopTyping clears the typing signal.
func (c *Controller) StopTyping(ctx context.Context) error {
	if err := c.typing.StopTyping(ctx); err != nil {
		return c.fail(err)
	}
	return nil
}

// Close tears down every subscription, stops the trackers and announces the
// user offline.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	msgSub, profileSub := c.msgSub, c.profileSub
	c.msgSub, c.profileSub = "", ""
	c.activeID = ""
	c.window = nil
	c.state = StateUninitialized
	c.hasUser = false
	c.mu.Unlock()

	for _, id := range []remote.SubscriptionID{msgSub, profileSub} {
		if id == "" {
			continue
		}
		if err := c.remote.Unsubscribe(ctx, id); err != nil {
			c.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
	c.typing.Close(ctx)
	c.reactions.Close(ctx)
	c.presence.Stop(ctx)
}

// State returns the lifecycle stage.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// User returns the current user view.
func (c *Controller) User() (models.UserView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.hasUser
}

// ActiveChannelID returns the active channel id.
func (c *Controller) ActiveChannelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeID
}

// Messages returns a copy of the message window in display order.
func (c *Controller) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.window...)
}

// NeedsReconcile reports whether a decree counter update failed and the
// profile has not been refetched since.
func (c *Controller) NeedsReconcile() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.needsReconcile
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) deny(d *Denial) error {
	metrics.Denials.WithLabelValues(d.Code).Inc()
	c.emit(Notice{Kind: NoticeDenial, Code: d.Code, Message: d.Message})
	return d
}

func (c *Controller) fail(err error) error {
	c.logger.Error().Err(err).Msg("remote operation failed")
	c.emit(Notice{Kind: NoticeError, Message: err.Error()})
	return err
}

func (c *Controller) emit(n Notice) {
	if c.notify != nil {
		c.notify(n)
	}
}
