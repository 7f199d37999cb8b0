package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

// SaveProvider inserts or updates a provider configuration by id.
func (s *Store) SaveProvider(ctx context.Context, p *domain.Provider) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, nickname, type, base_url, api_key, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			type = excluded.type,
			base_url = excluded.base_url,
			api_key = excluded.api_key,
			is_active = excluded.is_active`,
		p.ID, p.Nickname, string(p.Type), p.BaseURL, p.APIKey, p.IsActive, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: save provider: %v", domain.ErrStore, err)
	}
	return nil
}

// GetProvider fetches one provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (domain.Provider, error) {
	row := s.db.QueryRowContext(ctx, selectProviders+` WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Provider{}, domain.NewDomainError("store.GetProvider", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Provider{}, fmt.Errorf("%w: get provider: %v", domain.ErrStore, err)
	}
	return p, nil
}

// ListProviders returns every configured provider.
func (s *Store) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx, selectProviders+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list providers: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan provider: %v", domain.ErrStore, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProvider removes a provider; owned models cascade.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete provider: %v", domain.ErrStore, err)
	}
	return nil
}

// SyncProviderModels refreshes the provider's synced model list from the
// models endpoint: new names are inserted, vanished non-manual entries are
// pruned. Manually added models survive every sync.
func (s *Store) SyncProviderModels(ctx context.Context, providerID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin model sync: %v", domain.ErrStore, err)
	}
	defer tx.Rollback()

	existing := map[string]bool{}
	rows, err := tx.QueryContext(ctx,
		`SELECT model_name FROM chat_models WHERE provider_id = ?`, providerID)
	if err != nil {
		return fmt.Errorf("%w: model sync query: %v", domain.ErrStore, err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("%w: model sync scan: %v", domain.ErrStore, err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: model sync rows: %v", domain.ErrStore, err)
	}

	now := fmtTime(time.Now())
	seen := map[string]bool{}
	for _, name := range names {
		seen[name] = true
		if existing[name] {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_models
				(id, provider_id, model_name, display_name, is_enabled, is_manually_added, created_at)
			VALUES (?, ?, ?, '', 1, 0, ?)`,
			newID(), providerID, name, now)
		if err != nil {
			return fmt.Errorf("%w: model sync insert: %v", domain.ErrStore, err)
		}
	}

	for name := range existing {
		if !seen[name] {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM chat_models
				WHERE provider_id = ? AND model_name = ? AND is_manually_added = 0`,
				providerID, name)
			if err != nil {
				return fmt.Errorf("%w: model sync prune: %v", domain.ErrStore, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit model sync: %v", domain.ErrStore, err)
	}
	return nil
}

// AddManualModel records a model the user typed in by hand.
func (s *Store) AddManualModel(ctx context.Context, m *domain.ChatModel) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.IsManuallyAdded = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_models
			(id, provider_id, model_name, display_name, is_enabled, is_manually_added, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(provider_id, model_name) DO UPDATE SET
			display_name = excluded.display_name,
			is_enabled = excluded.is_enabled`,
		m.ID, m.ProviderID, m.ModelName, m.DisplayName, m.IsEnabled, fmtTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: add manual model: %v", domain.ErrStore, err)
	}
	return nil
}

// ModelsForProvider returns the provider's models by name order.
func (s *Store) ModelsForProvider(ctx context.Context, providerID string) ([]domain.ChatModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, model_name, display_name, is_enabled, is_manually_added, created_at
		FROM chat_models WHERE provider_id = ? ORDER BY model_name ASC`, providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.ChatModel
	for rows.Next() {
		var m domain.ChatModel
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.ModelName, &m.DisplayName,
			&m.IsEnabled, &m.IsManuallyAdded, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan model: %v", domain.ErrStore, err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetModel fetches one model by id.
func (s *Store) GetModel(ctx context.Context, id string) (domain.ChatModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider_id, model_name, display_name, is_enabled, is_manually_added, created_at
		FROM chat_models WHERE id = ?`, id)

	var m domain.ChatModel
	var createdAt string
	err := row.Scan(&m.ID, &m.ProviderID, &m.ModelName, &m.DisplayName,
		&m.IsEnabled, &m.IsManuallyAdded, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatModel{}, domain.NewDomainError("store.GetModel", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.ChatModel{}, fmt.Errorf("%w: get model: %v", domain.ErrStore, err)
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

const selectProviders = `
	SELECT id, nickname, type, base_url, api_key, is_active, created_at
	FROM providers`

func scanProvider(row rowScanner) (domain.Provider, error) {
	var p domain.Provider
	var typ, createdAt string
	err := row.Scan(&p.ID, &p.Nickname, &typ, &p.BaseURL, &p.APIKey, &p.IsActive, &createdAt)
	if err != nil {
		return domain.Provider{}, err
	}
	p.Type = domain.ProviderType(typ)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}
