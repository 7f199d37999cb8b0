package mcp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chatcore/internal/domain"
)

// DefaultSchemaJSON is the permissive parameter schema assigned to tools
// whose server reports none.
const DefaultSchemaJSON = `{"type":"object","properties":{},"additionalProperties":true}`

// defaultToolDescription fills in for tools whose server reports none.
const defaultToolDescription = "No description provided."

// qualifiedPrefix namespaces remote tool function names so they can never
// collide with the local memory tool names.
const qualifiedPrefix = "mcp"

// ConnectionState is one position of the per-server state machine
// idle -> connecting -> connected | error.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateError      ConnectionState = "error"
)

// ConnectionStatus is the observable per-server connection state. ToolCount
// is meaningful only when connected, Message only on error.
type ConnectionStatus struct {
	State     ConnectionState
	ToolCount int
	Message   string
}

// ToolIdentifier names one tool on one server.
type ToolIdentifier struct {
	ServerID uuid.UUID
	ToolName string
}

// QualifiedName renders the identifier as the function name exposed to
// providers: mcp::<serverUUID>::<toolName>.
func (id ToolIdentifier) QualifiedName() string {
	return fmt.Sprintf("%s::%s::%s", qualifiedPrefix, id.ServerID, id.ToolName)
}

// ParseQualifiedName recovers a ToolIdentifier from a qualified function
// name. The second return is false for names in any other namespace.
func ParseQualifiedName(name string) (ToolIdentifier, bool) {
	parts := strings.SplitN(name, "::", 3)
	if len(parts) != 3 || parts[0] != qualifiedPrefix {
		return ToolIdentifier{}, false
	}
	serverID, err := uuid.Parse(parts[1])
	if err != nil {
		return ToolIdentifier{}, false
	}
	return ToolIdentifier{ServerID: serverID, ToolName: parts[2]}, true
}

// ToolDescriptor is a normalized tool definition fetched from a server.
type ToolDescriptor struct {
	Identifier  ToolIdentifier
	Description string
	SchemaJSON  string
}

// RegisteredTool pairs a descriptor with its server's display name for
// dispatch during a tool-calling turn.
type RegisteredTool struct {
	Descriptor ToolDescriptor
	ServerName string
}

// FunctionTool renders the registered tool in the shape offered to
// providers, under its qualified name.
func (r RegisteredTool) FunctionTool() domain.FunctionTool {
	return domain.FunctionTool{
		Name:        r.Descriptor.Identifier.QualifiedName(),
		Description: r.Descriptor.Description,
		Parameters:  []byte(r.Descriptor.SchemaJSON),
	}
}

// RPCError is a JSON-RPC error envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC(%d): %s", e.Code, e.Message)
}

// HTTPError is a non-2xx response without a JSON-RPC error envelope.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 140 {
		body = body[:140]
	}
	if body == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, body)
}
