package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/remote/memory"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var channelIDs = []string{"great-hall", "marketplace", "tavern", "royal-court", "noble-assembly", "royal-chambers"}

func seedKingdom(b *memory.Backend) {
	for i, ch := range models.DefaultChannels() {
		ch.ID = channelIDs[i]
		ch.CreatedAt = base
		b.Seed(remote.Channels, ch.ToRecord())
	}
}

func seedProfile(b *memory.Backend, userID, username, rankName string, xp int64, used int) {
	b.Seed(remote.Profiles, models.Profile{
		ID:          "p-" + userID,
		UserID:      userID,
		Username:    username,
		Rank:        rankName,
		XP:          xp,
		DecreesUsed: used,
		CreatedAt:   base,
		UpdatedAt:   base,
	}.ToRecord())
}

func seedMessage(b *memory.Backend, id, channelID, userID, content string, at time.Time) {
	b.Seed(remote.Messages, models.Message{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  userID,
		Content:   content,
		CreatedAt: at,
	}.ToRecord())
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) add(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) last() Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.notices) == 0 {
		return Notice{}
	}
	return l.notices[len(l.notices)-1]
}

func startSession(t *testing.T, b *memory.Backend, userID string) (*Controller, *noticeLog) {
	t.Helper()
	log := &noticeLog{}
	c := New(b, Config{UserID: userID}, zerolog.Nop(), WithNotices(log.add))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, log
}

func TestStartWithoutIdentity(t *testing.T) {
	b := memory.New()
	c := New(b, Config{}, zerolog.Nop())
	require.ErrorIs(t, c.Start(context.Background()), ErrNotAuthenticated)
	require.Equal(t, StateUninitialized, c.State())
	require.Empty(t, b.Calls())
}

func TestStartMissingProfile(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	c := New(b, Config{UserID: "nobody"}, zerolog.Nop())
	err := c.Start(context.Background())
	require.ErrorIs(t, err, remote.ErrNotFound)
	require.Equal(t, StateUninitialized, c.State())
}

func TestStartChannelFailureIsRecoverable(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 100, 0)
	b.FailNext("fetch_many", remote.Channels, context.DeadlineExceeded)

	c := New(b, Config{UserID: "u1"}, zerolog.Nop())
	require.ErrorIs(t, c.Start(context.Background()), context.DeadlineExceeded)
	require.Equal(t, StateUninitialized, c.State())
	require.Zero(t, b.Subscriptions())

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateReady, c.State())
	require.Equal(t, "great-hall", c.ActiveChannelID())

	c.Close(context.Background())
	require.Zero(t, b.Subscriptions())
}

func TestStartOpensFirstVisibleChannel(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 100, 0)
	seedMessage(b, "m1", "great-hall", "u1", "hello", base.Add(time.Minute))

	c, _ := startSession(t, b, "u1")
	require.Equal(t, StateReady, c.State())
	require.Equal(t, "great-hall", c.ActiveChannelID())

	v := c.View()
	require.Len(t, v.Channels, 2)
	require.Equal(t, "Great Hall", v.Channels[0].Name)
	require.Equal(t, "Marketplace", v.Channels[1].Name)
	require.Len(t, v.Messages, 1)
	require.Equal(t, "tom", v.Messages[0].Author.Username)
	require.True(t, v.Messages[0].IsOwn)
	require.Equal(t, []string{"u1"}, v.OnlineUserIDs)
}

func TestEarlDecreeQuota(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 2)
	ctx := context.Background()

	c, log := startSession(t, b, "u1")
	user, _ := c.User()
	require.True(t, user.IsVIP)
	require.Equal(t, 3, user.MaxDecrees)

	msg, err := c.SendMessage(ctx, "  Hear ye!  ", true)
	require.NoError(t, err)
	require.True(t, msg.IsPinned())
	require.Equal(t, "Hear ye!", msg.Content)
	require.Equal(t, DecreeSentNotice, log.last().Message)

	user, _ = c.User()
	require.Equal(t, 3, user.DecreeCount)
	require.Zero(t, c.View().DecreesRemaining)

	inserts := b.CountCalls("insert", remote.Messages)
	_, err = c.SendMessage(ctx, "Another decree", true)
	require.ErrorIs(t, err, ErrNoDecreesRemaining)
	require.Equal(t, "You don't have any royal decrees remaining!", err.Error())
	require.Equal(t, inserts, b.CountCalls("insert", remote.Messages))
	require.Equal(t, NoticeDenial, log.last().Kind)

	user, _ = c.User()
	require.Equal(t, 3, user.DecreeCount)

	rows := b.Rows(remote.Profiles)
	used, _ := rows[0].Int("decrees_used")
	require.EqualValues(t, 3, used)
}

func TestNonVIPCannotDecree(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Baron", 12000, 0)

	c, _ := startSession(t, b, "u1")
	_, err := c.SendMessage(context.Background(), "By order of the baron", true)
	require.ErrorIs(t, err, ErrNoDecreesRemaining)
	require.Zero(t, b.CountCalls("insert", remote.Messages))
}

func TestKingHasUnlimitedDecrees(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "arthur", "King", 250000, 500)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	for i := 0; i < 3; i++ {
		_, err := c.SendMessage(ctx, fmt.Sprintf("decree %d", i), true)
		require.NoError(t, err)
	}
	user, _ := c.User()
	require.Equal(t, 503, user.DecreeCount)
	require.Equal(t, -1, c.View().DecreesRemaining)
}

func TestDecreeCounterIncrementsOnlyAfterRemoteSuccess(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 0)
	ctx := context.Background()

	c, log := startSession(t, b, "u1")
	b.FailNext("update", remote.Profiles, context.DeadlineExceeded)

	msg, err := c.SendMessage(ctx, "Taxes are abolished", true)
	var dcErr *DecreeCounterError
	require.ErrorAs(t, err, &dcErr)
	require.Equal(t, msg.ID, dcErr.MessageID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, NoticeError, log.last().Kind)

	user, _ := c.User()
	require.Zero(t, user.DecreeCount)
	require.True(t, c.NeedsReconcile())
	require.Len(t, c.Messages(), 1)

	fetches := b.CountCalls("fetch_one", remote.Profiles)
	_, err = c.SendMessage(ctx, "Taxes are restored", true)
	require.NoError(t, err)
	require.Equal(t, fetches+1, b.CountCalls("fetch_one", remote.Profiles))
	require.False(t, c.NeedsReconcile())

	user, _ = c.User()
	require.Equal(t, 1, user.DecreeCount)
}

func TestDecreeCounterConcurrentChange(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 0)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	_, err := b.Update(ctx, remote.Profiles, remote.Eq("user_id", "u1"), remote.Record{"decrees_used": 1})
	require.NoError(t, err)
	user, _ := c.User()
	require.Equal(t, 1, user.DecreeCount)

	// Simulate a lost profile event: the local counter is behind the remote one.
	c.mu.Lock()
	c.user.DecreeCount = 0
	c.mu.Unlock()

	_, err = c.SendMessage(ctx, "first", true)
	var dcErr *DecreeCounterError
	require.ErrorAs(t, err, &dcErr)
	require.True(t, c.NeedsReconcile())
	rows := b.Rows(remote.Profiles)
	used, _ := rows[0].Int("decrees_used")
	require.EqualValues(t, 1, used)

	_, err = c.SendMessage(ctx, "second", true)
	require.NoError(t, err)
	user, _ = c.User()
	require.Equal(t, 2, user.DecreeCount)
}

func TestSendValidation(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	ctx := context.Background()

	c, log := startSession(t, b, "u1")
	_, err := c.SendMessage(ctx, "   \n\t", false)
	require.ErrorIs(t, err, ErrEmptyContent)
	require.Equal(t, "empty_content", log.last().Code)
	require.Zero(t, b.CountCalls("insert", remote.Messages))

	b.FailNext("insert", remote.Messages, context.DeadlineExceeded)
	_, err = c.SendMessage(ctx, "hello", false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, c.Messages())
	require.Equal(t, NoticeError, log.last().Kind)
}

func TestSendMergesEchoOnce(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	msg, err := c.Send(ctx, Draft{Content: "first"})
	require.NoError(t, err)
	reply, err := c.Send(ctx, Draft{Content: "second", ReplyToID: msg.ID})
	require.NoError(t, err)
	require.Equal(t, msg.ID, reply.ReplyToID)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
	require.Equal(t, "tom", msgs[1].Author.Username)
}

func TestWindowOrderingUnderLateInserts(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedProfile(b, "u2", "ann", "Citizen", 3000, 0)
	for i := 0; i < 60; i++ {
		seedMessage(b, fmt.Sprintf("m%02d", i), "great-hall", "u2", fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	c, _ := startSession(t, b, "u1")
	msgs := c.Messages()
	require.Len(t, msgs, DefaultWindowSize)
	require.Equal(t, "m10", msgs[0].ID)
	require.Equal(t, "m59", msgs[len(msgs)-1].ID)
	require.Equal(t, "ann", msgs[0].Author.Username)

	emit := func(id string, at time.Time) {
		b.Emit(remote.Change{Collection: remote.Messages, Type: remote.ChangeInsert, New: models.Message{
			ID: id, ChannelID: "great-hall", AuthorID: "u2", Content: id, CreatedAt: at,
		}.ToRecord()})
	}
	emit("late-new", base.Add(2*time.Hour))
	emit("late-old", base.Add(90*time.Minute))
	emit("late-new", base.Add(2*time.Hour))

	msgs = c.Messages()
	require.Len(t, msgs, DefaultWindowSize)
	for i := 1; i < len(msgs); i++ {
		require.True(t, msgs[i-1].Before(msgs[i]), "window out of order at %d", i)
	}
	require.Equal(t, "late-old", msgs[len(msgs)-2].ID)
	require.Equal(t, "late-new", msgs[len(msgs)-1].ID)
}

func TestUnknownAuthorRendersPlaceholder(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedMessage(b, "m1", "great-hall", "ghost", "boo", base)

	c, _ := startSession(t, b, "u1")
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.UnknownUsername, msgs[0].Author.Username)
	require.Equal(t, "Peasant", msgs[0].Author.Rank.Name)
}

func TestHallAndCourtScenario(t *testing.T) {
	b := memory.New()
	b.Seed(remote.Channels,
		models.Channel{ID: "hall", Name: "Hall", MinRankLevel: 1}.ToRecord(),
		models.Channel{ID: "court", Name: "Court", MinRankLevel: 5}.ToRecord(),
	)
	seedProfile(b, "u1", "percival", "Knight", 9000, 0)
	ctx := context.Background()

	c, log := startSession(t, b, "u1")
	v := c.View()
	require.Len(t, v.Channels, 1)
	require.Equal(t, "hall", v.Channels[0].ID)
	require.Equal(t, "hall", c.ActiveChannelID())

	err := c.SelectChannel(ctx, "court")
	require.ErrorIs(t, err, ErrRankTooLow)
	require.Equal(t, "You need a higher rank to access this channel!", log.last().Message)
	require.Equal(t, "hall", c.ActiveChannelID())
	require.Equal(t, StateReady, c.State())

	require.ErrorIs(t, c.SelectChannel(ctx, "dungeon"), ErrUnknownChannel)
}

func TestChannelSwitchIgnoresOldChannelEvents(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 0)
	seedMessage(b, "h1", "great-hall", "u1", "in the hall", base)
	seedMessage(b, "c1", "royal-court", "u1", "in the court", base)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	require.Len(t, c.Messages(), 1)
	c.mu.RLock()
	oldEpoch := c.epoch
	c.mu.RUnlock()

	require.NoError(t, c.SelectChannel(ctx, "royal-court"))
	require.Equal(t, StateReady, c.State())
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "c1", msgs[0].ID)

	late := remote.Change{Collection: remote.Messages, Type: remote.ChangeInsert, New: models.Message{
		ID: "h2", ChannelID: "great-hall", AuthorID: "u1", Content: "late", CreatedAt: base.Add(time.Hour),
	}.ToRecord()}
	// Delivered on the old channel's handler after the switch.
	c.onMessage(oldEpoch, "great-hall", late)
	// Delivered on the current handler but tagged with the old channel.
	c.mu.RLock()
	current := c.epoch
	c.mu.RUnlock()
	c.onMessage(current, "royal-court", late)
	b.Emit(late)

	msgs = c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "c1", msgs[0].ID)
}

func TestSwitchFetchFailureLeavesEmptyWindow(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 0)
	seedMessage(b, "h1", "great-hall", "u1", "in the hall", base)
	ctx := context.Background()

	c, log := startSession(t, b, "u1")
	b.FailNext("fetch_many", remote.Messages, context.DeadlineExceeded)
	err := c.SelectChannel(ctx, "tavern")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StateChannelSwitching, c.State())
	require.Equal(t, "tavern", c.ActiveChannelID())
	require.Empty(t, c.Messages())
	require.Equal(t, NoticeError, log.last().Kind)

	require.NoError(t, c.SelectChannel(ctx, "tavern"))
	require.Equal(t, StateReady, c.State())
}

func TestEditAndDeleteOwnMessage(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	msg, err := c.SendMessage(ctx, "helo", false)
	require.NoError(t, err)

	require.NoError(t, c.EditMessage(ctx, msg.ID, " hello "))
	got := c.Messages()[0]
	require.Equal(t, "hello", got.Content)
	require.True(t, got.IsEdited())

	updates := b.CountCalls("update", remote.Messages)
	require.NoError(t, c.EditMessage(ctx, msg.ID, "hello  "))
	require.Equal(t, updates, b.CountCalls("update", remote.Messages))
	require.ErrorIs(t, c.EditMessage(ctx, msg.ID, "  "), ErrEmptyContent)

	require.NoError(t, c.DeleteMessage(ctx, msg.ID))
	v := c.View()
	require.True(t, v.Messages[0].IsDeleted)
	require.Equal(t, models.DeletedPlaceholder, v.Messages[0].Content)
	require.Len(t, b.Rows(remote.Messages), 1)

	require.ErrorIs(t, c.DeleteMessage(ctx, msg.ID), ErrUnknownMessage)
}

func TestEditOthersMessageIsNoop(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedProfile(b, "u2", "ann", "Peasant", 0, 0)
	seedMessage(b, "m1", "great-hall", "u2", "mine", base)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	calls := len(b.Calls())
	require.ErrorIs(t, c.EditMessage(ctx, "m1", "yours"), ErrNotAuthor)
	require.ErrorIs(t, c.DeleteMessage(ctx, "m1"), ErrNotAuthor)
	require.Equal(t, calls, len(b.Calls()))
	require.Equal(t, "mine", c.Messages()[0].Content)
	require.False(t, c.Messages()[0].IsDeleted)
}

func TestRemoteEditRejectionKeepsState(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	msg, err := c.SendMessage(ctx, "original", false)
	require.NoError(t, err)

	b.FailNext("update", remote.Messages, context.DeadlineExceeded)
	require.Error(t, c.EditMessage(ctx, msg.ID, "changed"))
	require.Equal(t, "original", c.Messages()[0].Content)
	require.False(t, c.Messages()[0].IsEdited())
}

func TestToggleReactionTwice(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedMessage(b, "m1", "great-hall", "u1", "react to me", base)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	require.NoError(t, c.ToggleReaction(ctx, "m1", "👑"))
	v := c.View()
	require.Len(t, v.Messages[0].Reactions, 1)
	require.True(t, v.Messages[0].Reactions[0].HasCurrentUserReacted)

	require.NoError(t, c.ToggleReaction(ctx, "m1", "👑"))
	require.Empty(t, c.View().Messages[0].Reactions)
	require.Empty(t, b.Rows(remote.Reactions))

	require.ErrorIs(t, c.ToggleReaction(ctx, "nope", "👑"), ErrUnknownMessage)
}

func TestRankDownMovesActiveChannel(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "gwen", "Earl", 20000, 0)
	ctx := context.Background()

	c, _ := startSession(t, b, "u1")
	require.NoError(t, c.SelectChannel(ctx, "royal-court"))

	_, err := b.Update(ctx, remote.Profiles, remote.Eq("user_id", "u1"), remote.Record{"rank": "Citizen", "xp": 3000})
	require.NoError(t, err)

	require.Equal(t, "great-hall", c.ActiveChannelID())
	user, _ := c.User()
	require.Equal(t, "Citizen", user.Rank.Name)
	require.Len(t, c.View().Channels, 3)

	_, err = b.Update(ctx, remote.Profiles, remote.Eq("user_id", "u1"), remote.Record{"rank": "Duke", "xp": 70000})
	require.NoError(t, err)
	require.Len(t, c.View().Channels, 6)
	require.Equal(t, "great-hall", c.ActiveChannelID())
}

func TestTypingAndStatusDelegation(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedProfile(b, "u2", "ann", "Peasant", 0, 0)
	ctx := context.Background()

	tom, _ := startSession(t, b, "u1")
	ann, _ := startSession(t, b, "u2")

	require.NoError(t, ann.StartTyping(ctx))
	typing := tom.View().Typing
	require.Len(t, typing, 1)
	require.Equal(t, "ann", typing[0].Username)
	require.NoError(t, ann.StopTyping(ctx))
	require.Empty(t, tom.View().Typing)

	require.NoError(t, ann.SetStatus(ctx, models.StatusAway))
	require.Equal(t, models.StatusAway, ann.View().Status)
	require.Error(t, ann.SetStatus(ctx, "sleepy"))
	require.Equal(t, []string{"u1", "u2"}, tom.View().OnlineUserIDs)
}

func TestCloseReleasesEverything(t *testing.T) {
	b := memory.New()
	seedKingdom(b)
	seedProfile(b, "u1", "tom", "Peasant", 0, 0)
	seedMessage(b, "m1", "great-hall", "u1", "hi", base)

	c := New(b, Config{UserID: "u1"}, zerolog.Nop())
	require.NoError(t, c.Start(context.Background()))
	require.NotZero(t, b.Subscriptions())

	c.Close(context.Background())
	require.Zero(t, b.Subscriptions())
	require.Equal(t, StateUninitialized, c.State())
	rows := b.Rows(remote.UserPresence)
	require.Len(t, rows, 1)
	require.Equal(t, "offline", rows[0].String("status"))
}
