package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/store"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rs, err := store.NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "kingdom.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	b := New(db, rs, zerolog.Nop())
	t.Cleanup(b.Close)
	return b
}

func TestMessageInsertReachesSubscriber(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	got := make(chan remote.Change, 4)
	_, err := b.Subscribe(ctx, remote.Messages, remote.Eq("channel_id", "hall"), remote.ChangeHandlers{
		OnInsert: func(c remote.Change) { got <- c },
	})
	require.NoError(t, err)

	_, err = b.Insert(ctx, remote.Messages, remote.Record{"channel_id": "court", "user_id": "u1", "content": "elsewhere"})
	require.NoError(t, err)
	row, err := b.Insert(ctx, remote.Messages, remote.Record{"channel_id": "hall", "user_id": "u1", "content": "hail"})
	require.NoError(t, err)
	require.NotEmpty(t, row.String("id"))

	select {
	case c := <-got:
		require.Equal(t, row.String("id"), c.New.String("id"))
		require.Equal(t, "hail", c.New.String("content"))
	case <-time.After(2 * time.Second):
		t.Fatal("insert not delivered")
	}

	rows, err := b.FetchMany(ctx, remote.Messages, remote.Eq("channel_id", "hall"), remote.ListOptions{OrderBy: "created_at", Descending: true, Limit: 50})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMessageUpdateHonorsAuthorFilter(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	row, err := b.Insert(ctx, remote.Messages, remote.Record{"channel_id": "hall", "user_id": "author", "content": "draft"})
	require.NoError(t, err)
	id := row.String("id")

	n, err := b.Update(ctx, remote.Messages, remote.Eq("id", id).And(remote.Eq("user_id", "intruder")), remote.Record{"content": "pwned"})
	require.NoError(t, err)
	require.Zero(t, n)

	edited := time.Now().UTC()
	n, err = b.Update(ctx, remote.Messages, remote.Eq("id", id).And(remote.Eq("user_id", "author")), remote.Record{"content": "final", "edited_at": edited})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := b.FetchOne(ctx, remote.Messages, remote.Eq("id", id))
	require.NoError(t, err)
	require.Equal(t, "final", got.String("content"))
	_, ok := got.Time("edited_at")
	require.True(t, ok)

	_, err = b.Delete(ctx, remote.Messages, remote.Eq("id", id))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestProfileDecreeCounterCompareAndSet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Insert(ctx, remote.Profiles, models.Profile{UserID: "u1", Username: "arthur", Rank: "Earl", DecreesUsed: 2}.ToRecord())
	require.NoError(t, err)
	_, err = b.Insert(ctx, remote.Profiles, remote.Record{"user_id": "u1", "username": "dup"})
	require.ErrorIs(t, err, remote.ErrConflict)

	filter := remote.Eq("user_id", "u1").And(remote.Eq("decrees_used", 2))
	n, err := b.Update(ctx, remote.Profiles, filter, remote.Record{"decrees_used": 3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = b.Update(ctx, remote.Profiles, filter, remote.Record{"decrees_used": 3})
	require.NoError(t, err)
	require.Zero(t, n)

	rec, err := b.FetchOne(ctx, remote.Profiles, remote.Eq("user_id", "u1"))
	require.NoError(t, err)
	used, _ := rec.Int("decrees_used")
	require.EqualValues(t, 3, used)
}

func TestReactionConflictAndDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	r := remote.Record{"message_id": "m1", "user_id": "u1", "emoji": "👑"}

	_, err := b.Insert(ctx, remote.Reactions, r)
	require.NoError(t, err)
	_, err = b.Insert(ctx, remote.Reactions, r)
	require.ErrorIs(t, err, remote.ErrConflict)

	rows, err := b.FetchMany(ctx, remote.Reactions, remote.In("message_id", "m1", "m2"), remote.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	filter := remote.Eq("message_id", "m1").And(remote.Eq("user_id", "u1")).And(remote.Eq("emoji", "👑"))
	n, err := b.Delete(ctx, remote.Reactions, filter)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = b.Delete(ctx, remote.Reactions, filter)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProceduresAndPresence(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.CallProcedure(ctx, remote.ProcUpdatePresence, remote.Record{"user_id": "u1", "status": "online"})
	require.NoError(t, err)
	rows, err := b.FetchMany(ctx, remote.UserPresence, remote.In("user_id", "u1"), remote.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "online", rows[0].String("status"))

	_, err = b.CallProcedure(ctx, remote.ProcUpdatePresence, remote.Record{"user_id": "u1", "status": "sleepy"})
	require.Error(t, err)

	_, err = b.Upsert(ctx, remote.TypingIndicators, remote.Record{"channel_id": "hall", "user_id": "u2", "username": "gawain", "updated_at": time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	out, err := b.CallProcedure(ctx, remote.ProcCleanupTyping, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, out["removed"])

	_, err = b.CallProcedure(ctx, "summon_dragon", nil)
	require.ErrorIs(t, err, remote.ErrUnknownProcedure)
}

func TestTrackPresenceSeesOthers(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	joined := make(chan string, 1)
	left := make(chan string, 1)
	first, err := b.TrackPresence(ctx, "user_presence", remote.Record{"user_id": "u1"}, remote.PresenceHandlers{
		OnJoin:  func(key string, _ remote.Record) { joined <- key },
		OnLeave: func(key string) { left <- key },
	})
	require.NoError(t, err)

	var synced map[string]remote.Record
	second, err := b.TrackPresence(ctx, "user_presence", remote.Record{"user_id": "u2"}, remote.PresenceHandlers{
		OnSync: func(states map[string]remote.Record) { synced = states },
	})
	require.NoError(t, err)
	require.Len(t, synced, 2)

	select {
	case key := <-joined:
		require.Equal(t, "u2", key)
	case <-time.After(2 * time.Second):
		t.Fatal("join not delivered")
	}

	require.NoError(t, b.Untrack(ctx, second))
	select {
	case key := <-left:
		require.Equal(t, "u2", key)
	case <-time.After(2 * time.Second):
		t.Fatal("leave not delivered")
	}
	require.NoError(t, b.Untrack(ctx, first))
}
