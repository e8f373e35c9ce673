package models

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/rank"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

// UnknownUsername is shown for authors whose profile cannot be resolved.
const UnknownUsername = "Unknown User"

// Profile is the authoritative per-user record in the profiles collection.
type Profile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Rank        string    `json:"rank"`
	XP          int64     `json:"xp"`
	IsVIP       bool      `json:"is_vip"`
	DecreesUsed int       `json:"decrees_used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToRecord converts the profile into a remote record.
func (p Profile) ToRecord() remote.Record {
	return remote.Record{
		"id":           p.ID,
		"user_id":      p.UserID,
		"username":     p.Username,
		"rank":         p.Rank,
		"xp":           p.XP,
		"is_vip":       p.IsVIP,
		"decrees_used": p.DecreesUsed,
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	}
}

// UserView is the rank-resolved identity used for rendering and permission
// checks. Values are immutable; a profile change produces a new one.
type UserView struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Rank        rank.Rank `json:"rank"`
	XP          int64     `json:"xp"`
	IsVIP       bool      `json:"is_vip"`
	DecreeCount int       `json:"decree_count"`
	MaxDecrees  int       `json:"max_decrees"`
	JoinedAt    time.Time `json:"joined_at"`
}

// NewUserView derives a view from a profile. The stored rank name wins over
// the XP band; unknown names resolve to the lowest rank.
func NewUserView(p Profile) UserView {
	r := rank.ByName(p.Rank)
	return UserView{
		ID:          p.UserID,
		Username:    p.Username,
		Rank:        r,
		XP:          p.XP,
		IsVIP:       p.IsVIP || r.IsVIP,
		DecreeCount: p.DecreesUsed,
		MaxDecrees:  r.DecreeQuota,
		JoinedAt:    p.CreatedAt,
	}
}

// PlaceholderUser is the view of an author without a profile.
func PlaceholderUser(id string) UserView {
	r := rank.Lowest()
	return UserView{ID: id, Username: UnknownUsername, Rank: r, MaxDecrees: r.DecreeQuota}
}

// CanIssueDecree reports whether the user has a decree left.
func (u UserView) CanIssueDecree() bool {
	if !u.IsVIP {
		return false
	}
	return u.MaxDecrees == rank.Unlimited || u.DecreeCount < u.MaxDecrees
}

// DecreesRemaining returns the decrees left, or rank.Unlimited.
func (u UserView) DecreesRemaining() int {
	if u.MaxDecrees == rank.Unlimited {
		return rank.Unlimited
	}
	if left := u.MaxDecrees - u.DecreeCount; left > 0 {
		return left
	}
	return 0
}

// CanAccess reports whether the user's rank reaches the given level.
func (u UserView) CanAccess(minRankLevel int) bool {
	return u.Rank.Level >= minRankLevel
}

// Progress describes the way to the next rank for the rank badge.
type Progress struct {
	Current  rank.Rank  `json:"current"`
	Next     *rank.Rank `json:"next,omitempty"`
	XPToNext int64      `json:"xp_to_next"`
}

// Progress returns rank progress for the user's XP.
func (u UserView) Progress() Progress {
	p := Progress{Current: u.Rank}
	if next, ok := rank.Next(u.Rank); ok {
		p.Next = &next
		if missing := next.MinXP - u.XP; missing > 0 {
			p.XPToNext = missing
		}
	}
	return p
}
