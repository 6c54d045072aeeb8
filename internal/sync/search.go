package sync

import (
	"strings"

	"github.com/telechat/telechat/internal/store"
)

// SearchChats filters the current chat list by a case-insensitive
// substring of the display name. An empty query returns everything.
func (c *Coordinator) SearchChats(query string) []store.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]store.Chat, len(c.chats))
		copy(out, c.chats)
		return out
	}

	var out []store.Chat
	for _, chat := range c.chats {
		if strings.Contains(strings.ToLower(chat.Name), query) {
			out = append(out, chat)
		}
	}
	return out
}
