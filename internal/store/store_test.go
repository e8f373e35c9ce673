package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/models"
)

func TestUpdateSQLPostgresPlaceholders(t *testing.T) {
	three, two := 3, 2
	upd := ProfileUpdate{DecreesUsed: &three, ExpectDecreesUsed: &two}

	query, args := upd.updateSQL("u1", "now", func(n int) string { return fmt.Sprintf("$%d", n) })
	require.Equal(t, "UPDATE profiles SET decrees_used = $1, updated_at = $2 WHERE user_id = $3 AND decrees_used = $4", query)
	require.Equal(t, []any{3, "now", "u1", 2}, args)
}

func TestProfileUpdateApply(t *testing.T) {
	name := "lancelot"
	xp := int64(5000)
	upd := ProfileUpdate{Username: &name, XP: &xp}
	require.False(t, upd.Empty())
	require.True(t, ProfileUpdate{}.Empty())

	p := upd.Apply(models.Profile{UserID: "u1", Username: "arthur", Rank: "Knight"})
	require.Equal(t, "lancelot", p.Username)
	require.EqualValues(t, 5000, p.XP)
	require.Equal(t, "Knight", p.Rank)
}
