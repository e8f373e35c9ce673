package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/remote/memory"
)

func TestStartAnnouncesAndTracks(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	other := New(b, "u2", zerolog.Nop())
	other.SetUsername("gawain")
	require.NoError(t, other.Start(ctx))
	defer other.Stop(ctx)

	tr := New(b, "u1", zerolog.Nop())
	tr.SetUsername("arthur")
	require.NoError(t, tr.Start(ctx))

	require.Equal(t, []string{"u1", "u2"}, tr.OnlineUserIDs())
	require.True(t, other.IsOnline("u1"))

	records := tr.Records()
	require.Len(t, records, 2)
	require.Equal(t, "gawain", records[1].Username)
	require.Equal(t, models.StatusOnline, records[1].Status)

	tr.Stop(ctx)
	require.False(t, other.IsOnline("u1"))

	rows := b.Rows(remote.UserPresence)
	for _, row := range rows {
		if row.String("user_id") == "u1" {
			require.Equal(t, "offline", row.String("status"))
		}
	}
	require.Eventually(t, func() bool {
		for _, r := range other.Records() {
			if r.UserID == "u1" {
				return r.Status == models.StatusOffline
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestHeartbeatReannouncesStatus(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	tr := New(b, "u1", zerolog.Nop(), WithHeartbeat(10*time.Millisecond))
	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.SetStatus(ctx, models.StatusBusy))

	require.Eventually(t, func() bool {
		rows := b.Rows(remote.UserPresence)
		return b.CountCalls("rpc", remote.ProcUpdatePresence) >= 4 &&
			len(rows) == 1 && rows[0].String("status") == "busy"
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, models.StatusBusy, tr.Status())
	tr.Stop(ctx)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	tr := New(memory.New(), "u1", zerolog.Nop())
	require.ErrorIs(t, tr.SetStatus(context.Background(), "sleepy"), ErrInvalidStatus)
	require.Equal(t, models.StatusOnline, tr.Status())
}

func TestStartFailureLeavesTrackerStopped(t *testing.T) {
	b := memory.New()
	b.FailNext("rpc", remote.ProcUpdatePresence, context.DeadlineExceeded)

	tr := New(b, "u1", zerolog.Nop())
	require.Error(t, tr.Start(context.Background()))
	require.Empty(t, tr.OnlineUserIDs())

	require.NoError(t, tr.Start(context.Background()))
	tr.Stop(context.Background())
}
