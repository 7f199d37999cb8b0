package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransportType identifies how an MCP server is reached. Only TransportHTTP
// (JSON-RPC 2.0 over HTTP POST) is implemented; the others are persisted and
// validated as extension points.
type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
	TransportLocal TransportType = "local"
)

// MCPServer is a persisted remote tool-provider endpoint. Tools and
// conversation selections are owned: deleting the server cascades to both.
type MCPServer struct {
	ID          uuid.UUID         `json:"id"`
	Identifier  string            `json:"identifier"`
	DisplayName string            `json:"display_name"`
	Transport   TransportType     `json:"transport"`
	BaseURL     string            `json:"base_url,omitempty"`
	CommandPath string            `json:"command_path,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastError   string            `json:"last_error,omitempty"`
}

// MCPTool is a persisted tool descriptor owned by a server and refreshed by
// sync: matches are updated in place, new tools inserted, vanished ones
// pruned.
type MCPTool struct {
	ID          string    `json:"id"`
	ServerID    uuid.UUID `json:"server_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SchemaJSON  string    `json:"schema_json"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversationMCPSelection marks a server's tools as exposed to one
// conversation (a many-to-many join).
type ConversationMCPSelection struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ServerID       uuid.UUID `json:"server_id"`
	Pinned         bool      `json:"pinned"`
	CreatedAt      time.Time `json:"created_at"`
}
