package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

// memoryConfigID pins the config table to a single row.
const memoryConfigID = "memory-config"

// InsertMemory inserts a memory record, assigning an id and timestamps when
// missing.
func (s *Store) InsertMemory(ctx context.Context, rec *domain.MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, content, created_at, updated_at, conversation_id)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), rec.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("%w: insert memory: %v", domain.ErrStore, err)
	}
	return nil
}

// UpdateMemoryContent replaces a record's content and touches its timestamp.
func (s *Store) UpdateMemoryContent(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET content = ?, updated_at = ? WHERE id = ?`,
		content, fmtTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("%w: update memory: %v", domain.ErrStore, err)
	}
	return nil
}

// TouchMemory bumps a record's updated_at, marking it recently relevant.
func (s *Store) TouchMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("%w: touch memory: %v", domain.ErrStore, err)
	}
	return nil
}

// DeleteMemory removes one memory record.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete memory: %v", domain.ErrStore, err)
	}
	return nil
}

// ClearMemories removes every memory record and reports how many went.
func (s *Store) ClearMemories(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records`)
	if err != nil {
		return 0, fmt.Errorf("%w: clear memories: %v", domain.ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MemoriesInScope returns candidate records for scoring and deduplication.
// With cross-chat enabled every record is in scope; otherwise only the
// records of one conversation.
func (s *Store) MemoriesInScope(ctx context.Context, conversationID string, crossChat bool) ([]domain.MemoryRecord, error) {
	if crossChat {
		return s.AllMemories(ctx)
	}
	return s.queryMemories(ctx,
		selectMemories+` WHERE conversation_id = ? ORDER BY updated_at DESC`, conversationID)
}

// MemoriesByContent returns every record whose content exactly equals the
// given text.
func (s *Store) MemoriesByContent(ctx context.Context, content string) ([]domain.MemoryRecord, error) {
	return s.queryMemories(ctx, selectMemories+` WHERE content = ?`, content)
}

// AllMemories returns every stored record, most recently updated first.
func (s *Store) AllMemories(ctx context.Context) ([]domain.MemoryRecord, error) {
	return s.queryMemories(ctx, selectMemories+` ORDER BY updated_at DESC`)
}

// GetOrCreateMemoryConfig returns the singleton memory config, creating it
// with both flags enabled on first access.
func (s *Store) GetOrCreateMemoryConfig(ctx context.Context) (domain.MemoryConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, memory_enabled, cross_chat_enabled, updated_at
		FROM memory_config WHERE id = ?`, memoryConfigID)

	var cfg domain.MemoryConfig
	var updatedAt string
	err := row.Scan(&cfg.ID, &cfg.MemoryEnabled, &cfg.CrossChatEnabled, &updatedAt)
	if err == nil {
		cfg.UpdatedAt = parseTime(updatedAt)
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.MemoryConfig{}, fmt.Errorf("%w: get memory config: %v", domain.ErrStore, err)
	}

	cfg = domain.MemoryConfig{
		ID:               memoryConfigID,
		MemoryEnabled:    true,
		CrossChatEnabled: true,
		UpdatedAt:        time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_config (id, memory_enabled, cross_chat_enabled, updated_at)
		VALUES (?, ?, ?, ?)`,
		cfg.ID, cfg.MemoryEnabled, cfg.CrossChatEnabled, fmtTime(cfg.UpdatedAt),
	)
	if err != nil {
		return domain.MemoryConfig{}, fmt.Errorf("%w: create memory config: %v", domain.ErrStore, err)
	}
	return cfg, nil
}

// UpdateMemoryConfig saves the singleton config flags.
func (s *Store) UpdateMemoryConfig(ctx context.Context, cfg domain.MemoryConfig) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memory_config SET memory_enabled = ?, cross_chat_enabled = ?, updated_at = ?
		WHERE id = ?`,
		cfg.MemoryEnabled, cfg.CrossChatEnabled, fmtTime(time.Now()), memoryConfigID,
	)
	if err != nil {
		return fmt.Errorf("%w: update memory config: %v", domain.ErrStore, err)
	}
	return nil
}

const selectMemories = `
	SELECT id, content, created_at, updated_at, conversation_id
	FROM memory_records`

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]domain.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query memories: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.MemoryRecord
	for rows.Next() {
		var rec domain.MemoryRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Content, &createdAt, &updatedAt, &rec.ConversationID); err != nil {
			return nil, fmt.Errorf("%w: scan memory: %v", domain.ErrStore, err)
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
