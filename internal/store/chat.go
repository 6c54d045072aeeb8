package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record (idempotent on chat_id).
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, eid, kind, name, avatar, last_message, last_message_at, seen, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			eid = CASE WHEN excluded.eid != '' THEN excluded.eid ELSE chats.eid END,
			kind = excluded.kind,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE chats.avatar END,
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			seen = excluded.seen,
			stored_at = excluded.stored_at`,
		c.ChatID, c.EID, c.Kind, c.Name, c.Avatar, c.LastMessage, c.LastMessageAt, c.Seen, now)
	return err
}

// AllChats returns every chat, descending by last-activity timestamp.
func (db *DB) AllChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT chat_id, eid, kind, name, avatar, last_message, last_message_at, seen
		FROM chats
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.EID, &c.Kind, &c.Name, &c.Avatar, &c.LastMessage, &c.LastMessageAt, &c.Seen); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, nil when absent.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT chat_id, eid, kind, name, avatar, last_message, last_message_at, seen
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.EID, &c.Kind, &c.Name, &c.Avatar, &c.LastMessage, &c.LastMessageAt, &c.Seen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
