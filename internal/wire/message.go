package wire

import (
	"github.com/telechat/telechat/internal/store"
)

// Message is the raw message shape as the server sends it, both in REST
// responses and inside live "message" events. Older server builds used
// different field names for the same data, so normalization applies an
// explicit precedence per field (see ToStoreMessage). Downstream code only
// ever sees the canonical store.Message.
type Message struct {
	ID          string   `json:"id"`
	ChatID      string   `json:"chat_id"`
	ChatIDAlt   string   `json:"chatId"`
	SenderID    string   `json:"sender_id"`
	UserID      string   `json:"user_id"`
	Sender      *User    `json:"sender"`
	Text        string   `json:"text"`
	MessageType string   `json:"message_type"`
	CreatedAt   FlexTime `json:"created_at"`
	UpdatedAt   FlexTime `json:"updated_at"`
	Timestamp   FlexTime `json:"timestamp"`
}

// User is a sender display snapshot embedded in message payloads.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// ToStoreMessage normalizes a wire message into the canonical record.
//
// Field precedence:
//   - chat id:    chat_id, then chatId
//   - sender id:  sender_id, then user_id, then sender.id
//   - created at: created_at, then timestamp
//   - kind:       message_type, defaulting to "text" when empty
//   - sender name: sender.username, then sender.name
func (m *Message) ToStoreMessage() *store.Message {
	chatID := m.ChatID
	if chatID == "" {
		chatID = m.ChatIDAlt
	}

	senderID := m.SenderID
	if senderID == "" {
		senderID = m.UserID
	}
	if senderID == "" && m.Sender != nil {
		senderID = m.Sender.ID
	}

	created := m.CreatedAt.Millis()
	if created == 0 {
		created = m.Timestamp.Millis()
	}

	kind := m.MessageType
	if kind == "" {
		kind = "text"
	}

	var senderName, senderAvatar string
	if m.Sender != nil {
		senderName = m.Sender.Username
		if senderName == "" {
			senderName = m.Sender.Name
		}
		senderAvatar = m.Sender.Avatar
	}

	return &store.Message{
		ID:           m.ID,
		ChatID:       chatID,
		SenderID:     senderID,
		Text:         m.Text,
		Kind:         kind,
		CreatedAt:    created,
		UpdatedAt:    m.UpdatedAt.Millis(),
		SenderName:   senderName,
		SenderAvatar: senderAvatar,
	}
}

// SenderSnapshot returns the embedded sender as a store.User, or nil when
// the payload carried no usable sender info.
func (m *Message) SenderSnapshot() *store.User {
	if m.Sender == nil || m.Sender.ID == "" {
		return nil
	}
	name := m.Sender.Username
	if name == "" {
		name = m.Sender.Name
	}
	return &store.User{
		ID:       m.Sender.ID,
		Username: name,
		Email:    m.Sender.Email,
		Avatar:   m.Sender.Avatar,
	}
}
