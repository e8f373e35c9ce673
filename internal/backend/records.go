package backend

import (
	"fmt"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/store"
)

func toRecords[T any](items []T, conv func(T) remote.Record) []remote.Record {
	out := make([]remote.Record, 0, len(items))
	for _, item := range items {
		out = append(out, conv(item))
	}
	return out
}

func reactionRecord(r models.Reaction) remote.Record {
	rec := r.ToRecord()
	rec["id"] = r.ID
	rec["created_at"] = r.CreatedAt
	return rec
}

func typingRecord(t models.TypingRecord) remote.Record {
	rec := t.ToRecord()
	rec["id"] = t.ID
	return rec
}

// stringValues returns the eq/in candidates of field as strings.
func stringValues(filter remote.Filter, field string) ([]string, bool) {
	values, ok := filter.Values(field)
	if !ok {
		return nil, false
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out, true
}

// stringValue returns the single eq value of field.
func stringValue(filter remote.Filter, field string) (string, bool) {
	v, ok := filter.Value(field)
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

// profilePatch mirrors the writable profile columns. Absent keys stay nil.
type profilePatch struct {
	Username    *string `json:"username"`
	Rank        *string `json:"rank"`
	XP          *int64  `json:"xp"`
	IsVIP       *bool   `json:"is_vip"`
	DecreesUsed *int    `json:"decrees_used"`
}

func profileUpdate(patch remote.Record, expectDecrees *int) (store.ProfileUpdate, error) {
	p, err := models.Decode[profilePatch](patch)
	if err != nil {
		return store.ProfileUpdate{}, err
	}
	return store.ProfileUpdate{
		Username:          p.Username,
		Rank:              p.Rank,
		XP:                p.XP,
		IsVIP:             p.IsVIP,
		DecreesUsed:       p.DecreesUsed,
		ExpectDecreesUsed: expectDecrees,
	}, nil
}
