package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/rank"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "kingdom.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteProfileLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	created, err := s.CreateProfile(ctx, &models.Profile{UserID: "u1", Username: "arthur", Rank: "Earl", XP: 20000, IsVIP: true, DecreesUsed: 2})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.True(t, created.IsVIP)
	require.False(t, created.CreatedAt.IsZero())

	_, err = s.CreateProfile(ctx, &models.Profile{UserID: "u1", Username: "again"})
	require.ErrorIs(t, err, ErrDuplicate)

	missing, err := s.GetProfile(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)

	n, err := s.CountProfiles(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSQLiteUpdateProfileCompareAndSet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateProfile(ctx, &models.Profile{UserID: "u1", Username: "arthur", Rank: "Earl", DecreesUsed: 2})
	require.NoError(t, err)

	three, two := 3, 2
	ok, err := s.UpdateProfile(ctx, "u1", ProfileUpdate{DecreesUsed: &three, ExpectDecreesUsed: &two})
	require.NoError(t, err)
	require.True(t, ok)

	// The counter moved on, so a second update expecting 2 is a no-op.
	four := 4
	ok, err = s.UpdateProfile(ctx, "u1", ProfileUpdate{DecreesUsed: &four, ExpectDecreesUsed: &two})
	require.NoError(t, err)
	require.False(t, ok)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, p.DecreesUsed)
}

func TestSQLiteListProfilesBatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.CreateProfile(ctx, &models.Profile{UserID: id, Username: id})
		require.NoError(t, err)
	}

	got, err := s.ListProfiles(ctx, []string{"a", "c", "zz"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	none, err := s.ListProfiles(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSQLiteSeedChannels(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, SeedChannels(ctx, s))
	require.NoError(t, SeedChannels(ctx, s))

	channels, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, len(models.DefaultChannels()))
	for i := 1; i < len(channels); i++ {
		require.LessOrEqual(t, channels[i-1].MinRankLevel, channels[i].MinRankLevel)
	}

	last := channels[len(channels)-1]
	require.Equal(t, "Royal Chambers", last.Name)
	require.Equal(t, rank.ChannelExclusive, last.Type)

	got, err := s.GetChannel(ctx, last.ID)
	require.NoError(t, err)
	require.Equal(t, last.Name, got.Name)
}
