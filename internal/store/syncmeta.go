package store

import (
	"database/sql"
	"time"
)

// TouchChatSync records a successful server fetch for a chat.
func (db *DB) TouchChatSync(chatID string, syncedAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chat_sync (chat_id, last_synced_at, stored_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			stored_at = excluded.stored_at`,
		chatID, syncedAt, now)
	return err
}

// ChatSyncFor returns the sync checkpoint for a chat, nil when absent.
func (db *DB) ChatSyncFor(chatID string) (*ChatSync, error) {
	var cs ChatSync
	err := db.QueryRow(`SELECT chat_id, last_synced_at FROM chat_sync WHERE chat_id = ?`, chatID).
		Scan(&cs.ChatID, &cs.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}
