package store

import "database/sql"

// migrate creates the schema if it doesn't exist. Ownership relations
// cascade: deleting a conversation removes its messages and MCP selections,
// deleting an MCP server removes its tools and selections, deleting a
// provider removes its models.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			title             TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,
			temperature       REAL NOT NULL DEFAULT 0.7,
			system_prompt     TEXT NOT NULL DEFAULT '',
			streaming_enabled INTEGER NOT NULL DEFAULT 1,
			selected_model_id TEXT NOT NULL DEFAULT '',
			context_reset_at  TEXT
		);

		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role              TEXT NOT NULL,
			content           TEXT NOT NULL DEFAULT '',
			reasoning_content TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			is_streaming      INTEGER NOT NULL DEFAULT 0,
			tool_call_id      TEXT NOT NULL DEFAULT '',
			tool_call_name    TEXT NOT NULL DEFAULT '',
			tool_call_args    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS memory_records (
			id              TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS memory_config (
			id                 TEXT PRIMARY KEY,
			memory_enabled     INTEGER NOT NULL DEFAULT 1,
			cross_chat_enabled INTEGER NOT NULL DEFAULT 1,
			updated_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS providers (
			id         TEXT PRIMARY KEY,
			nickname   TEXT NOT NULL,
			type       TEXT NOT NULL,
			base_url   TEXT NOT NULL DEFAULT '',
			api_key    TEXT NOT NULL DEFAULT '',
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_models (
			id                TEXT PRIMARY KEY,
			provider_id       TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
			model_name        TEXT NOT NULL,
			display_name      TEXT NOT NULL DEFAULT '',
			is_enabled        INTEGER NOT NULL DEFAULT 1,
			is_manually_added INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			UNIQUE(provider_id, model_name)
		);

		CREATE TABLE IF NOT EXISTS mcp_servers (
			id           TEXT PRIMARY KEY,
			identifier   TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			transport    TEXT NOT NULL DEFAULT 'http',
			base_url     TEXT NOT NULL DEFAULT '',
			command_path TEXT NOT NULL DEFAULT '',
			headers      TEXT NOT NULL DEFAULT '{}',
			enabled      INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			last_error   TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS mcp_tools (
			id          TEXT PRIMARY KEY,
			server_id   TEXT NOT NULL REFERENCES mcp_servers(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			schema_json TEXT NOT NULL DEFAULT '{}',
			enabled     INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			UNIQUE(server_id, name)
		);

		CREATE TABLE IF NOT EXISTS conversation_mcp_selections (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			server_id       TEXT NOT NULL REFERENCES mcp_servers(id) ON DELETE CASCADE,
			pinned          INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			UNIQUE(conversation_id, server_id)
		);
	`
	_, err := db.Exec(schema)
	return err
}
