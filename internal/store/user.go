package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a cached user display record.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, username, email, avatar, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END,
			stored_at = excluded.stored_at`,
		u.ID, u.Username, u.Email, u.Avatar, now)
	return err
}

// GetUser returns a cached user by id, nil when absent.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, username, email, avatar FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Avatar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
