package store

// Message is a canonical synced message. Timestamps are unix milliseconds.
type Message struct {
	ID           string
	ChatID       string
	SenderID     string
	Text         string
	Kind         string // "text" or another server-reported kind
	CreatedAt    int64
	UpdatedAt    int64
	SenderName   string
	SenderAvatar string
	// Local marks records synthesized on this device (preview placeholders).
	// Local records are never written to the cache.
	Local bool
}

// Chat is a canonical chat-list entry.
type Chat struct {
	ChatID        string
	EID           string // external-facing id used for detail fetches
	Kind          string // direct | group | broadcast
	Name          string
	Avatar        string
	LastMessage   string
	LastMessageAt int64
	Seen          bool
}

// User is a cached user display record.
type User struct {
	ID       string
	Username string
	Email    string
	Avatar   string
}

// ChatSync records the last successful server fetch for a chat.
type ChatSync struct {
	ChatID       string
	LastSyncedAt int64
}
