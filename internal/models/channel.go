package models

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/rank"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Channel is a rank-gated chat room.
type Channel struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Type         rank.ChannelType `json:"type"`
	MinRankLevel int              `json:"min_rank_level"`
	MemberCount  int              `json:"member_count"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ChannelFromRecord decodes a channel and derives its type from the
// required rank level, ignoring whatever type the record carries.
func ChannelFromRecord(rec remote.Record) (Channel, error) {
	c, err := Decode[Channel](rec)
	if err != nil {
		return Channel{}, err
	}
	c.Type = rank.ClassifyChannel(c.MinRankLevel)
	return c, nil
}

// ToRecord converts the channel into a remote record.
func (c Channel) ToRecord() remote.Record {
	return remote.Record{
		"id":             c.ID,
		"name":           c.Name,
		"description":    c.Description,
		"type":           string(rank.ClassifyChannel(c.MinRankLevel)),
		"min_rank_level": c.MinRankLevel,
		"member_count":   c.MemberCount,
		"created_at":     c.CreatedAt,
	}
}

// DefaultChannels is the catalog seeded into an empty store.
func DefaultChannels() []Channel {
	return []Channel{
		{Name: "Great Hall", Description: "The main gathering place for all citizens of the kingdom", MinRankLevel: 1},
		{Name: "Marketplace", Description: "Trade goods and services with fellow citizens", MinRankLevel: 1},
		{Name: "Tavern", Description: "Casual conversation over ale and mead", MinRankLevel: 2},
		{Name: "Royal Court", Description: "Where nobles discuss matters of the realm", MinRankLevel: 5},
		{Name: "Noble Assembly", Description: "Exclusive council of the high nobility", MinRankLevel: 6},
		{Name: "Royal Chambers", Description: "Private quarters for dukes and above", MinRankLevel: 7},
	}
}
