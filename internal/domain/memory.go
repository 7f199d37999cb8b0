package domain

import "time"

// MemoryRecord is a persisted free-text fact retrievable by fuzzy keyword
// match. An empty ConversationID means the record is global (cross-chat);
// otherwise it is scoped to one conversation. UpdatedAt is touched when a
// near-duplicate save is detected, acting as a recency bump.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// MemoryConfig is the singleton memory feature configuration, created
// lazily with both flags enabled on first access.
type MemoryConfig struct {
	ID               string    `json:"id"`
	MemoryEnabled    bool      `json:"memory_enabled"`
	CrossChatEnabled bool      `json:"cross_chat_enabled"`
	UpdatedAt        time.Time `json:"updated_at"`
}
