package chat

import (
	"sort"

	"github.com/Fidelis900/crown-commune/internal/models"
)

// VisibleChannels returns the channels user may enter, by ascending
// required rank and then name.
func VisibleChannels(all []models.Channel, user models.UserView) []models.Channel {
	out := make([]models.Channel, 0, len(all))
	for _, ch := range all {
		if CanSelect(ch, user) {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MinRankLevel != out[j].MinRankLevel {
			return out[i].MinRankLevel < out[j].MinRankLevel
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CanSelect reports whether user's rank reaches the channel's minimum.
func CanSelect(ch models.Channel, user models.UserView) bool {
	return user.CanAccess(ch.MinRankLevel)
}
