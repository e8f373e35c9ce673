package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// MessagePreview represents a preview of a message.
type MessagePreview struct {
	ID         string `json:"id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Body       string `json:"body"`
	IsDecree   bool   `json:"is_decree"`
	Timestamp  int64  `json:"timestamp"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalProfiles  int64            `json:"total_profiles"`
	TotalChannels  int64            `json:"total_channels"`
	OnlineUsers    int              `json:"online_users"`
	LastActivity   string           `json:"last_activity"`
	RecentMessages []MessagePreview `json:"recent_messages"`
	RecentDecrees  []MessagePreview `json:"recent_decrees"`
}

// Stats returns kingdom statistics for the sidebar.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var totalProfiles, totalChannels int64
	if h.data != nil {
		var err error
		totalProfiles, err = h.data.CountProfiles(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to count profiles")
			return
		}

		totalChannels, err = h.data.CountChannels(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to count channels")
			return
		}
	}

	limit := 5
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 50 {
		limit = l
	}

	v := h.session.View()
	lastActivity := "no activity yet"
	if n := len(v.Messages); n > 0 {
		lastActivity = formatTimeAgo(v.Messages[n-1].CreatedAt)
	}

	recent := make([]MessagePreview, 0, limit)
	decrees := make([]MessagePreview, 0)
	for i := len(v.Messages) - 1; i >= 0; i-- {
		msg := v.Messages[i]
		if msg.IsDeleted {
			continue
		}

		// Truncate body if too long
		body := msg.Content
		if len(body) > 200 {
			body = body[:197] + "..."
		}

		preview := MessagePreview{
			ID:         msg.ID,
			AuthorID:   msg.Author.ID,
			AuthorName: msg.Author.Username,
			Body:       body,
			IsDecree:   msg.IsDecree,
			Timestamp:  msg.CreatedAt.UnixMilli(),
		}
		if len(recent) < limit {
			recent = append(recent, preview)
		}
		if msg.IsPinned {
			decrees = append(decrees, preview)
		}
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalProfiles:  totalProfiles,
		TotalChannels:  totalChannels,
		OnlineUsers:    len(v.OnlineUserIDs),
		LastActivity:   lastActivity,
		RecentMessages: recent,
		RecentDecrees:  decrees,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
