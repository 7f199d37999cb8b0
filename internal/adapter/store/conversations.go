package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

// CreateConversation inserts a conversation, assigning an id and timestamps
// when missing.
func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, title, created_at, updated_at, temperature, system_prompt,
			 streaming_enabled, selected_model_id, context_reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
		c.Temperature, c.SystemPrompt, c.StreamingEnabled, c.SelectedModelID,
		nullableTime(c.ContextResetAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert conversation: %v", domain.ErrStore, err)
	}
	return nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, temperature, system_prompt,
		       streaming_enabled, selected_model_id, context_reset_at
		FROM conversations WHERE id = ?`, id)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, domain.NewDomainError("store.GetConversation", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: get conversation: %v", domain.ErrStore, err)
	}
	return c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at, temperature, system_prompt,
		       streaming_enabled, selected_model_id, context_reset_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversations: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan conversation: %v", domain.ErrStore, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversation saves mutable conversation fields and touches
// updated_at.
func (s *Store) UpdateConversation(ctx context.Context, c domain.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET title = ?, updated_at = ?, temperature = ?, system_prompt = ?,
		    streaming_enabled = ?, selected_model_id = ?, context_reset_at = ?
		WHERE id = ?`,
		c.Title, fmtTime(time.Now()), c.Temperature, c.SystemPrompt,
		c.StreamingEnabled, c.SelectedModelID, nullableTime(c.ContextResetAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update conversation: %v", domain.ErrStore, err)
	}
	return nil
}

// ResetContext sets the conversation's context reset marker. Messages
// created before it stay stored but drop out of future prompt history.
func (s *Store) ResetContext(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET context_reset_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now()), conversationID,
	)
	if err != nil {
		return fmt.Errorf("%w: reset context: %v", domain.ErrStore, err)
	}
	return nil
}

// DeleteConversation removes a conversation; owned messages and MCP
// selections cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete conversation: %v", domain.ErrStore, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (domain.Conversation, error) {
	var c domain.Conversation
	var createdAt, updatedAt string
	var resetAt sql.NullString
	err := row.Scan(&c.ID, &c.Title, &createdAt, &updatedAt, &c.Temperature,
		&c.SystemPrompt, &c.StreamingEnabled, &c.SelectedModelID, &resetAt)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if resetAt.Valid {
		t := parseTime(resetAt.String)
		c.ContextResetAt = &t
	}
	return c, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
