// Package rank holds the static membership tiers of the kingdom.
package rank

import (
	"math"
	"strings"
)

// Unlimited marks a decree quota without an upper bound.
const Unlimited = -1

// Unbounded is the MaxXP of the terminal rank.
const Unbounded = math.MaxInt64

// Rank is a leveled membership tier.
type Rank struct {
	Name        string   `json:"name"`
	Level       int      `json:"level"`
	MinXP       int64    `json:"min_xp"`
	MaxXP       int64    `json:"max_xp"`
	IsVIP       bool     `json:"is_vip"`
	DecreeQuota int      `json:"decree_quota"`
	Privileges  []string `json:"privileges"`
}

// Terminal reports whether the rank has no XP ceiling.
func (r Rank) Terminal() bool {
	return r.MaxXP == Unbounded
}

// Unlimited reports whether decrees are not capped for the rank.
func (r Rank) Unlimited() bool {
	return r.DecreeQuota == Unlimited
}

// CanIssueDecree reports whether a holder of this rank who already used
// `used` decrees may issue another one.
func (r Rank) CanIssueDecree(used int) bool {
	if !r.IsVIP {
		return false
	}
	return r.Unlimited() || used < r.DecreeQuota
}

// HasPrivilege reports whether the rank grants the named privilege.
func (r Rank) HasPrivilege(name string) bool {
	for _, p := range r.Privileges {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// table is ordered by ascending level. Bands are contiguous: each MinXP is
// the previous MaxXP + 1.
var table = []Rank{
	{Name: "Peasant", Level: 1, MinXP: 0, MaxXP: 2000,
		Privileges: []string{"Basic Chat Access"}},
	{Name: "Citizen", Level: 2, MinXP: 2001, MaxXP: 4800,
		Privileges: []string{"Basic Chat Access", "Join Factions"}},
	{Name: "Knight", Level: 3, MinXP: 4801, MaxXP: 10000,
		Privileges: []string{"Basic Chat Access", "Join Factions", "Create Petitions"}},
	{Name: "Baron", Level: 4, MinXP: 10001, MaxXP: 18000,
		Privileges: []string{"Basic Chat Access", "Join Factions", "Create Petitions", "Message Intermediary"}},
	{Name: "Earl", Level: 5, MinXP: 18001, MaxXP: 32000, IsVIP: true, DecreeQuota: 3,
		Privileges: []string{"VIP Chat Access", "Profile Customization", "Royal Decrees", "Court Records"}},
	{Name: "Marquis", Level: 6, MinXP: 32001, MaxXP: 60000, IsVIP: true, DecreeQuota: 5,
		Privileges: []string{"VIP Chat Access", "Profile Customization", "Royal Decrees", "Host Events", "Voting Rights"}},
	{Name: "Duke", Level: 7, MinXP: 60001, MaxXP: 100000, IsVIP: true, DecreeQuota: 7,
		Privileges: []string{"VIP Chat Access", "Profile Customization", "Royal Decrees", "Host Events", "Voting Rights", "Royal Chambers Access"}},
	{Name: "Prince", Level: 8, MinXP: 100001, MaxXP: 200000, IsVIP: true, DecreeQuota: 10,
		Privileges: []string{"All VIP Privileges", "Royal Decrees", "Kingdom Influence"}},
	{Name: "King", Level: 9, MinXP: 200001, MaxXP: Unbounded, IsVIP: true, DecreeQuota: Unlimited,
		Privileges: []string{"Ultimate Authority", "Unlimited Decrees", "System Administration"}},
}

// All returns a copy of the rank table in ascending level order.
func All() []Rank {
	out := make([]Rank, len(table))
	copy(out, table)
	return out
}

// Lowest returns the entry rank, used whenever a lookup cannot be resolved.
func Lowest() Rank {
	return table[0]
}

// ByName resolves a rank by case-insensitive name. Unknown names resolve to
// the lowest rank so an author's rank never blocks rendering.
func ByName(name string) Rank {
	name = strings.TrimSpace(name)
	for _, r := range table {
		if strings.EqualFold(r.Name, name) {
			return r
		}
	}
	return Lowest()
}

// ByLevel resolves a rank by level, falling back to the lowest rank.
func ByLevel(level int) Rank {
	for _, r := range table {
		if r.Level == level {
			return r
		}
	}
	return Lowest()
}

// Of resolves either a level (int) or a name (string).
func Of[T int | string](levelOrName T) Rank {
	switch v := any(levelOrName).(type) {
	case int:
		return ByLevel(v)
	case string:
		return ByName(v)
	}
	return Lowest()
}

// ForXP returns the rank whose XP band contains xp. Negative XP counts as zero.
func ForXP(xp int64) Rank {
	if xp < 0 {
		xp = 0
	}
	for i := len(table) - 1; i >= 0; i-- {
		if xp >= table[i].MinXP {
			return table[i]
		}
	}
	return Lowest()
}

// Next returns the rank above r, or false for the terminal rank.
func Next(r Rank) (Rank, bool) {
	for i, candidate := range table {
		if candidate.Level == r.Level && i+1 < len(table) {
			return table[i+1], true
		}
	}
	return Rank{}, false
}

// XPToNext returns how much XP is missing to reach the next rank. It is zero
// at the terminal rank.
func XPToNext(xp int64) int64 {
	next, ok := Next(ForXP(xp))
	if !ok {
		return 0
	}
	return next.MinXP - xp
}
