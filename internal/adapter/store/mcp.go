package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain"
)

// SaveMCPServer inserts or updates a server configuration by id.
func (s *Store) SaveMCPServer(ctx context.Context, server *domain.MCPServer) error {
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	server.UpdatedAt = now

	headers, err := json.Marshal(server.Headers)
	if err != nil {
		return fmt.Errorf("%w: marshal headers: %v", domain.ErrStore, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers
			(id, identifier, display_name, transport, base_url, command_path,
			 headers, enabled, created_at, updated_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			display_name = excluded.display_name,
			transport = excluded.transport,
			base_url = excluded.base_url,
			command_path = excluded.command_path,
			headers = excluded.headers,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at,
			last_error = excluded.last_error`,
		server.ID.String(), server.Identifier, server.DisplayName, string(server.Transport),
		server.BaseURL, server.CommandPath, string(headers), server.Enabled,
		fmtTime(server.CreatedAt), fmtTime(server.UpdatedAt), server.LastError,
	)
	if err != nil {
		return fmt.Errorf("%w: save mcp server: %v", domain.ErrStore, err)
	}
	return nil
}

// GetMCPServer fetches one server by id.
func (s *Store) GetMCPServer(ctx context.Context, id uuid.UUID) (domain.MCPServer, error) {
	row := s.db.QueryRowContext(ctx, selectMCPServers+` WHERE id = ?`, id.String())
	server, err := scanMCPServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MCPServer{}, domain.NewDomainError("store.GetMCPServer", domain.ErrNotFound, id.String())
	}
	if err != nil {
		return domain.MCPServer{}, fmt.Errorf("%w: get mcp server: %v", domain.ErrStore, err)
	}
	return server, nil
}

// ListMCPServers returns every configured server.
func (s *Store) ListMCPServers(ctx context.Context) ([]domain.MCPServer, error) {
	rows, err := s.db.QueryContext(ctx, selectMCPServers+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list mcp servers: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.MCPServer
	for rows.Next() {
		server, err := scanMCPServer(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan mcp server: %v", domain.ErrStore, err)
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

// SetMCPServerError records the server's last connection error ("" clears).
func (s *Store) SetMCPServerError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mcp_servers SET last_error = ?, updated_at = ? WHERE id = ?`,
		message, fmtTime(time.Now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: set mcp server error: %v", domain.ErrStore, err)
	}
	return nil
}

// DeleteMCPServer removes a server; owned tools and selections cascade.
func (s *Store) DeleteMCPServer(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("%w: delete mcp server: %v", domain.ErrStore, err)
	}
	return nil
}

// ToolsForServer returns the server's persisted tools by name order.
func (s *Store) ToolsForServer(ctx context.Context, serverID uuid.UUID) ([]domain.MCPTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, name, description, schema_json, enabled, created_at, updated_at
		FROM mcp_tools WHERE server_id = ? ORDER BY name ASC`, serverID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: list mcp tools: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.MCPTool
	for rows.Next() {
		var t domain.MCPTool
		var serverIDStr, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &serverIDStr, &t.Name, &t.Description,
			&t.SchemaJSON, &t.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan mcp tool: %v", domain.ErrStore, err)
		}
		t.ServerID, _ = uuid.Parse(serverIDStr)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SyncServerTools diffs the fetched descriptors against the server's
// persisted tools by name: matches get their description and schema updated,
// new names are inserted, names no longer reported are pruned. Runs in one
// transaction so a failed sync leaves the previous tool set intact.
func (s *Store) SyncServerTools(ctx context.Context, serverID uuid.UUID, fetched []domain.MCPTool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin sync: %v", domain.ErrStore, err)
	}
	defer tx.Rollback()

	existing := map[string]string{} // name -> id
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name FROM mcp_tools WHERE server_id = ?`, serverID.String())
	if err != nil {
		return fmt.Errorf("%w: sync query: %v", domain.ErrStore, err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("%w: sync scan: %v", domain.ErrStore, err)
		}
		existing[name] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: sync rows: %v", domain.ErrStore, err)
	}

	now := fmtTime(time.Now())
	seen := map[string]bool{}
	for _, tool := range fetched {
		seen[tool.Name] = true
		if id, ok := existing[tool.Name]; ok {
			_, err = tx.ExecContext(ctx, `
				UPDATE mcp_tools SET description = ?, schema_json = ?, updated_at = ?
				WHERE id = ?`,
				tool.Description, tool.SchemaJSON, now, id)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO mcp_tools
					(id, server_id, name, description, schema_json, enabled, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
				newID(), serverID.String(), tool.Name, tool.Description, tool.SchemaJSON, now, now)
		}
		if err != nil {
			return fmt.Errorf("%w: sync upsert: %v", domain.ErrStore, err)
		}
	}

	for name, id := range existing {
		if !seen[name] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM mcp_tools WHERE id = ?`, id); err != nil {
				return fmt.Errorf("%w: sync prune: %v", domain.ErrStore, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit sync: %v", domain.ErrStore, err)
	}
	return nil
}

// SelectServer exposes a server's tools to a conversation. Selecting twice
// is a no-op.
func (s *Store) SelectServer(ctx context.Context, conversationID string, serverID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_mcp_selections (id, conversation_id, server_id, pinned, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(conversation_id, server_id) DO NOTHING`,
		newID(), conversationID, serverID.String(), fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("%w: select server: %v", domain.ErrStore, err)
	}
	return nil
}

// UnselectServer withdraws a server's tools from a conversation.
func (s *Store) UnselectServer(ctx context.Context, conversationID string, serverID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_mcp_selections WHERE conversation_id = ? AND server_id = ?`,
		conversationID, serverID.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: unselect server: %v", domain.ErrStore, err)
	}
	return nil
}

// SelectionsForConversation returns which servers the conversation exposes.
func (s *Store) SelectionsForConversation(ctx context.Context, conversationID string) ([]domain.ConversationMCPSelection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, server_id, pinned, created_at
		FROM conversation_mcp_selections WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list selections: %v", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.ConversationMCPSelection
	for rows.Next() {
		var sel domain.ConversationMCPSelection
		var serverIDStr, createdAt string
		if err := rows.Scan(&sel.ID, &sel.ConversationID, &serverIDStr, &sel.Pinned, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan selection: %v", domain.ErrStore, err)
		}
		sel.ServerID, _ = uuid.Parse(serverIDStr)
		sel.CreatedAt = parseTime(createdAt)
		out = append(out, sel)
	}
	return out, rows.Err()
}

const selectMCPServers = `
	SELECT id, identifier, display_name, transport, base_url, command_path,
	       headers, enabled, created_at, updated_at, last_error
	FROM mcp_servers`

func scanMCPServer(row rowScanner) (domain.MCPServer, error) {
	var server domain.MCPServer
	var idStr, transport, headers, createdAt, updatedAt string
	err := row.Scan(&idStr, &server.Identifier, &server.DisplayName, &transport,
		&server.BaseURL, &server.CommandPath, &headers, &server.Enabled,
		&createdAt, &updatedAt, &server.LastError)
	if err != nil {
		return domain.MCPServer{}, err
	}
	server.ID, _ = uuid.Parse(idStr)
	server.Transport = domain.TransportType(transport)
	server.CreatedAt = parseTime(createdAt)
	server.UpdatedAt = parseTime(updatedAt)
	if headers != "" {
		_ = json.Unmarshal([]byte(headers), &server.Headers)
	}
	return server, nil
}
