package wire

import (
	"github.com/telechat/telechat/internal/store"
)

// Chat is the raw chat shape from the list and detail endpoints.
type Chat struct {
	ChatID      string   `json:"chat_id"`
	ID          string   `json:"id"`
	EID         string   `json:"eid"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	User        *User    `json:"user"`
	LastMessage string   `json:"last_message"`
	UpdatedAt   FlexTime `json:"updated_at"`
	IsSeen      bool     `json:"is_seen"`

	// Detail responses may inline the most recent message page.
	Messages []Message `json:"messages"`
}

// ToStoreChat normalizes a wire chat into the canonical record.
//
// Field precedence:
//   - chat id: chat_id, then id
//   - kind:    type, with "dm" mapped to "direct" and "channel" to
//     "broadcast"; empty defaults to "direct"
//   - name:    user.username, then user.name, then name
//   - avatar:  user.avatar
func (c *Chat) ToStoreChat() *store.Chat {
	id := c.ChatID
	if id == "" {
		id = c.ID
	}

	kind := c.Type
	switch kind {
	case "", "dm":
		kind = "direct"
	case "channel":
		kind = "broadcast"
	}

	name := c.Name
	var avatar string
	if c.User != nil {
		if c.User.Username != "" {
			name = c.User.Username
		} else if c.User.Name != "" {
			name = c.User.Name
		}
		avatar = c.User.Avatar
	}

	return &store.Chat{
		ChatID:        id,
		EID:           c.EID,
		Kind:          kind,
		Name:          name,
		Avatar:        avatar,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.UpdatedAt.Millis(),
		Seen:          c.IsSeen,
	}
}
