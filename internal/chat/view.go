package chat

import (
	"time"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/typing"
)

// MessageView is a message as rendered in the feed.
type MessageView struct {
	ID        string                   `json:"id"`
	ChannelID string                   `json:"channel_id"`
	Author    models.UserView          `json:"author"`
	Content   string                   `json:"content"`
	CreatedAt time.Time                `json:"created_at"`
	EditedAt  *time.Time               `json:"edited_at,omitempty"`
	ReplyToID string                   `json:"reply_to_id,omitempty"`
	IsDecree  bool                     `json:"is_decree"`
	IsPinned  bool                     `json:"is_pinned"`
	IsEdited  bool                     `json:"is_edited"`
	IsDeleted bool                     `json:"is_deleted"`
	IsOwn     bool                     `json:"is_own"`
	Reactions []models.ReactionSummary `json:"reactions"`
}

// View is a read-only snapshot of the session.
type View struct {
	State            State                   `json:"state"`
	User             *models.UserView        `json:"user,omitempty"`
	Progress         *models.Progress        `json:"progress,omitempty"`
	DecreesRemaining int                     `json:"decrees_remaining"`
	NeedsReconcile   bool                    `json:"needs_reconcile"`
	Channels         []models.Channel        `json:"channels"`
	ActiveChannel    *models.Channel         `json:"active_channel,omitempty"`
	Messages         []MessageView           `json:"messages"`
	Typing           []typing.Entry          `json:"typing"`
	OnlineUserIDs    []string                `json:"online_user_ids"`
	Presence         []models.PresenceRecord `json:"presence"`
	Status           models.PresenceStatus   `json:"status"`
}

// View returns the current snapshot with trackers merged in.
func (c *Controller) View() View {
	c.mu.RLock()
	v := View{
		State:          c.state,
		NeedsReconcile: c.needsReconcile,
		Messages:       make([]MessageView, 0, len(c.window)),
	}
	if c.hasUser {
		user := c.user
		progress := user.Progress()
		v.User = &user
		v.Progress = &progress
		v.DecreesRemaining = user.DecreesRemaining()
		v.Channels = VisibleChannels(c.channels, user)
	}
	for i := range c.channels {
		if c.channels[i].ID == c.activeID {
			ch := c.channels[i]
			v.ActiveChannel = &ch
			break
		}
	}
	window := append([]models.Message(nil), c.window...)
	userID := c.user.ID
	c.mu.RUnlock()

	for _, m := range window {
		v.Messages = append(v.Messages, MessageView{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			Author:    m.Author,
			Content:   m.DisplayContent(),
			CreatedAt: m.CreatedAt,
			EditedAt:  m.EditedAt,
			ReplyToID: m.ReplyToID,
			IsDecree:  m.IsDecree,
			IsPinned:  m.IsPinned(),
			IsEdited:  m.IsEdited(),
			IsDeleted: m.IsDeleted,
			IsOwn:     userID != "" && m.AuthorID == userID,
			Reactions: c.reactions.Summaries(m.ID),
		})
	}
	v.Typing = c.typing.Users()
	v.OnlineUserIDs = c.presence.OnlineUserIDs()
	v.Presence = c.presence.Records()
	v.Status = c.presence.Status()
	return v
}
