package rank

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBandsAreOrderedAndContiguous(t *testing.T) {
	ranks := All()
	unbounded := 0
	for i, r := range ranks {
		require.GreaterOrEqual(t, r.Level, 1)
		require.LessOrEqual(t, r.MinXP, r.MaxXP, "rank %s", r.Name)
		if r.Terminal() {
			unbounded++
		}
		if i == 0 {
			require.Equal(t, int64(0), r.MinXP)
			continue
		}
		prev := ranks[i-1]
		require.Greater(t, r.Level, prev.Level)
		require.Less(t, prev.MaxXP, r.MinXP)
		require.Equal(t, prev.MaxXP+1, r.MinXP, "gap between %s and %s", prev.Name, r.Name)
	}
	require.Equal(t, 1, unbounded)
	require.True(t, ranks[len(ranks)-1].Terminal())
}

func TestForXPIsMonotonic(t *testing.T) {
	last := 0
	for xp := int64(0); xp <= 250000; xp += 250 {
		level := ForXP(xp).Level
		require.GreaterOrEqual(t, level, last, "xp %d", xp)
		last = level
	}
	require.Equal(t, "Peasant", ForXP(-5).Name)
	require.Equal(t, "Citizen", ForXP(2001).Name)
	require.Equal(t, "Peasant", ForXP(2000).Name)
	require.Equal(t, "King", ForXP(1<<40).Name)
}

func TestUnknownNameResolvesToLowest(t *testing.T) {
	require.Equal(t, Lowest(), ByName("archduke"))
	require.Equal(t, Lowest(), ByName(""))
	require.Equal(t, Lowest(), ByLevel(42))
	require.Equal(t, "Earl", ByName("earl").Name)
	require.Equal(t, "Earl", Of("  EARL ").Name)
	require.Equal(t, "Duke", Of(7).Name)
}

func TestDecreePrivilege(t *testing.T) {
	earl := ByName("Earl")
	require.Equal(t, 3, earl.DecreeQuota)
	require.True(t, earl.CanIssueDecree(2))
	require.False(t, earl.CanIssueDecree(3))

	require.False(t, ByName("Baron").CanIssueDecree(0))

	king := ByName("King")
	require.True(t, king.Unlimited())
	require.True(t, king.CanIssueDecree(1000))
}

func TestNextAndXPToNext(t *testing.T) {
	next, ok := Next(ByName("Knight"))
	require.True(t, ok)
	require.Equal(t, "Baron", next.Name)

	_, ok = Next(ByName("King"))
	require.False(t, ok)

	require.Equal(t, int64(1), XPToNext(2000))
	require.Equal(t, int64(0), XPToNext(300000))
}

func TestClassifyChannel(t *testing.T) {
	tests := []struct {
		level int
		want  ChannelType
	}{
		{1, ChannelPublic},
		{4, ChannelPublic},
		{5, ChannelVIP},
		{6, ChannelVIP},
		{7, ChannelExclusive},
		{9, ChannelExclusive},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ClassifyChannel(tt.level), "level %d", tt.level)
	}
}
