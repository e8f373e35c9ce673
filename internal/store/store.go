package store

import (
	"context"
	"errors"
	"strings"

	"github.com/Fidelis900/crown-commune/internal/models"
)

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// DataStore defines the interface for durable storage of profiles and channels.
// Both PostgresStore and SQLiteStore implement this interface. Lookups return
// (nil, nil) when nothing matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Profile operations
	CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error)
	CountProfiles(ctx context.Context) (int64, error)

	// Channel operations
	CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	CountChannels(ctx context.Context) (int64, error)
}

// ProfileUpdate is a partial profile write. Nil fields are left unchanged.
type ProfileUpdate struct {
	Username    *string
	Rank        *string
	XP          *int64
	IsVIP       *bool
	DecreesUsed *int

	// ExpectDecreesUsed makes the update conditional on the stored counter.
	ExpectDecreesUsed *int
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Rank == nil && u.XP == nil && u.IsVIP == nil && u.DecreesUsed == nil
}

// Apply returns p with the update applied.
func (u ProfileUpdate) Apply(p models.Profile) models.Profile {
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.Rank != nil {
		p.Rank = *u.Rank
	}
	if u.XP != nil {
		p.XP = *u.XP
	}
	if u.IsVIP != nil {
		p.IsVIP = *u.IsVIP
	}
	if u.DecreesUsed != nil {
		p.DecreesUsed = *u.DecreesUsed
	}
	return p
}

// updateSQL builds the SET and WHERE clauses of a profile update. placeholder
// renders the n-th (1-based) bind parameter for the target driver.
func (u ProfileUpdate) updateSQL(userID string, now any, placeholder func(n int) string) (string, []any) {
	var sets []string
	var args []any
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+" = "+placeholder(len(args)))
	}
	if u.Username != nil {
		add("username", *u.Username)
	}
	if u.Rank != nil {
		add("rank", *u.Rank)
	}
	if u.XP != nil {
		add("xp", *u.XP)
	}
	if u.IsVIP != nil {
		add("is_vip", *u.IsVIP)
	}
	if u.DecreesUsed != nil {
		add("decrees_used", *u.DecreesUsed)
	}
	add("updated_at", now)

	args = append(args, userID)
	where := "user_id = " + placeholder(len(args))
	if u.ExpectDecreesUsed != nil {
		args = append(args, *u.ExpectDecreesUsed)
		where += " AND decrees_used = " + placeholder(len(args))
	}
	return "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE " + where, args
}

// SeedChannels inserts the default catalog when the store has no channels.
func SeedChannels(ctx context.Context, s DataStore) error {
	n, err := s.CountChannels(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, c := range models.DefaultChannels() {
		c := c
		if _, err := s.CreateChannel(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}
