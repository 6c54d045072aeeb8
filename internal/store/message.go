package store

import (
	"fmt"
	"time"
)

// AddMessage inserts or updates a single message (idempotent on id).
// Used for live-event persistence and send confirmations.
func (db *DB) AddMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, text, kind, sender_name, sender_avatar, created_at, updated_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			kind = excluded.kind,
			sender_name = excluded.sender_name,
			sender_avatar = excluded.sender_avatar,
			updated_at = excluded.updated_at`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.Kind, m.SenderName, m.SenderAvatar, m.CreatedAt, m.UpdatedAt, now)
	return err
}

// UpsertMessages writes a batch of messages in one transaction. Writing the
// same id twice overwrites, never duplicates. Input order is irrelevant.
func (db *DB) UpsertMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, chat_id, sender_id, text, kind, sender_name, sender_avatar, created_at, updated_at, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				kind = excluded.kind,
				sender_name = excluded.sender_name,
				sender_avatar = excluded.sender_avatar,
				updated_at = excluded.updated_at`,
			m.ID, m.ChatID, m.SenderID, m.Text, m.Kind, m.SenderName, m.SenderAvatar, m.CreatedAt, m.UpdatedAt, now); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// MessagesForChat returns the most recent limit messages for a chat,
// ascending by created timestamp. Unknown chat ids yield an empty slice.
func (db *DB) MessagesForChat(chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_id, sender_id, text, kind, sender_name, sender_avatar, created_at, updated_at
		FROM (
			SELECT id, chat_id, sender_id, text, kind, sender_name, sender_avatar, created_at, updated_at
			FROM messages
			WHERE chat_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Kind, &m.SenderName, &m.SenderAvatar, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
