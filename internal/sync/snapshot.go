package sync

import (
	"github.com/telechat/telechat/internal/conn"
	"github.com/telechat/telechat/internal/store"
)

// Snapshot is a point-in-time copy of the coordinator's reactive state.
// Slices are copies; consumers may hold them across further mutations.
type Snapshot struct {
	User            *store.User
	ConnState       conn.State
	Chats           []store.Chat
	SelectedChatID  string
	Messages        []store.Message
	Loading         bool
	SendingInFlight bool
	LastError       *ErrorInfo
}

// Snapshot returns a consistent copy of all reactive fields.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ConnState:       c.connState,
		SelectedChatID:  c.selectedChatID,
		Loading:         c.loading,
		SendingInFlight: c.sending,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.lastErr != nil {
		e := *c.lastErr
		snap.LastError = &e
	}
	snap.Chats = make([]store.Chat, len(c.chats))
	copy(snap.Chats, c.chats)
	snap.Messages = cloneMessages(c.messages)
	return snap
}

// SelectedChatID returns the id of the open chat, empty when none is.
func (c *Coordinator) SelectedChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedChatID
}

// LastError returns a copy of the standing error, nil when clear.
func (c *Coordinator) LastError() *ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	e := *c.lastErr
	return &e
}
