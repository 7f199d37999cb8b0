package domain

import (
	"sort"
	"time"
)

// Conversation is a persisted chat session. Messages and MCP selections are
// owned: deleting the conversation cascades to both.
type Conversation struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Temperature      float64    `json:"temperature"`
	SystemPrompt     string     `json:"system_prompt"`
	StreamingEnabled bool       `json:"streaming_enabled"`
	SelectedModelID  string     `json:"selected_model_id,omitempty"`
	// ContextResetAt excludes messages created before it from context
	// building. It is a marker, not a deletion: the messages stay stored.
	ContextResetAt *time.Time `json:"context_reset_at,omitempty"`
}

// Message is a persisted chat message. Content is mutable while IsStreaming
// is true: the engine creates the record empty, appends deltas as they
// arrive, and finalizes it on completion, error, or cancellation.
// The ToolCall* fields are set only on assistant tool-invocation records.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	ReasoningContent string    `json:"reasoning_content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	IsStreaming      bool      `json:"is_streaming"`
	ToolCallID       string    `json:"tool_call_id,omitempty"`
	ToolCallName     string    `json:"tool_call_name,omitempty"`
	ToolCallArgs     string    `json:"tool_call_arguments,omitempty"`
}

// SortMessagesByCreation orders messages by creation time ascending.
func SortMessagesByCreation(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// InContextWindow reports whether the message is included when building
// history for the given conversation, honoring ContextResetAt.
func (m Message) InContextWindow(c Conversation) bool {
	if c.ContextResetAt == nil {
		return true
	}
	return !m.CreatedAt.Before(*c.ContextResetAt)
}
