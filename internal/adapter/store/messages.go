package store

import (
	"context"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

// CreateMessage inserts a message, assigning an id and creation time when
// missing.
func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, role, content, reasoning_content, created_at,
			 is_streaming, tool_call_id, tool_call_name, tool_call_args)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.ReasoningContent,
		fmtTime(m.CreatedAt), m.IsStreaming, m.ToolCallID, m.ToolCallName, m.ToolCallArgs,
	)
	if err != nil {
		return fmt.Errorf("%w: insert message: %v", domain.ErrStore, err)
	}
	return nil
}

// UpdateMessage saves the mutable message fields. Called once per received
// delta while streaming, so it stays a single-row write.
func (s *Store) UpdateMessage(ctx context.Context, m domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, reasoning_content = ?, is_streaming = ?,
		    tool_call_id = ?, tool_call_name = ?, tool_call_args = ?
		WHERE id = ?`,
		m.Content, m.ReasoningContent, m.IsStreaming,
		m.ToolCallID, m.ToolCallName, m.ToolCallArgs, m.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update message: %v", domain.ErrStore, err)
	}
	return nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessages+` WHERE id = ?`, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: get message: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.Message{}, domain.NewDomainError("store.GetMessage", domain.ErrNotFound, id)
	}
	return scanMessage(rows)
}

// MessagesForConversation returns all of a conversation's messages in
// creation order.
func (s *Store) MessagesForConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		selectMessages+` WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID)
}

// ContextMessages returns the messages included in prompt history for the
// conversation, honoring its context reset marker.
func (s *Store) ContextMessages(ctx context.Context, c domain.Conversation) ([]domain.Message, error) {
	if c.ContextResetAt == nil {
		return s.MessagesForConversation(ctx, c.ID)
	}
	return s.queryMessages(ctx,
		selectMessages+` WHERE conversation_id = ? AND created_at >= ? ORDER BY created_at ASC`,
		c.ID, fmtTime(*c.ContextResetAt))
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete message: %v", domain.ErrStore, err)
	}
	return nil
}

const selectMessages = `
	SELECT id, conversation_id, role, content, reasoning_content, created_at,
	       is_streaming, tool_call_id, tool_call_name, tool_call_args
	FROM messages`

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var m domain.Message
	var createdAt string
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
		&m.ReasoningContent, &createdAt, &m.IsStreaming,
		&m.ToolCallID, &m.ToolCallName, &m.ToolCallArgs)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: scan message: %v", domain.ErrStore, err)
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}
