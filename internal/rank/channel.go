package rank

// ChannelType is the informational tier of a channel.
type ChannelType string

const (
	ChannelPublic    ChannelType = "public"
	ChannelVIP       ChannelType = "vip"
	ChannelExclusive ChannelType = "exclusive"
)

// Thresholds used by ClassifyChannel. VIP channels open at the first VIP rank
// (Earl), exclusive ones at Duke, which carries Royal Chambers Access.
const (
	VIPChannelLevel       = 5
	ExclusiveChannelLevel = 7
)

// ClassifyChannel derives a channel's type from its minimum rank level.
func ClassifyChannel(minRankLevel int) ChannelType {
	switch {
	case minRankLevel >= ExclusiveChannelLevel:
		return ChannelExclusive
	case minRankLevel >= VIPChannelLevel:
		return ChannelVIP
	default:
		return ChannelPublic
	}
}
