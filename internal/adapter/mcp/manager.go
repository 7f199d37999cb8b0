package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// Repository is the slice of the persistence layer the manager needs.
type Repository interface {
	ListMCPServers(ctx context.Context) ([]domain.MCPServer, error)
	ToolsForServer(ctx context.Context, serverID uuid.UUID) ([]domain.MCPTool, error)
	SyncServerTools(ctx context.Context, serverID uuid.UUID, fetched []domain.MCPTool) error
	SelectionsForConversation(ctx context.Context, conversationID string) ([]domain.ConversationMCPSelection, error)
	SetMCPServerError(ctx context.Context, serverID uuid.UUID, message string) error
}

// Manager owns one Client per enabled server, keeps their persisted tool
// sets in sync, and dispatches tool invocations by server+tool identity.
// Connection and RPC failures surface as per-server error state, never as
// a crashed manager.
type Manager struct {
	repo   Repository
	client *http.Client
	cfg    config.MCPConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
	servers map[uuid.UUID]domain.MCPServer
}

// NewManager creates a manager over the given repository.
func NewManager(repo Repository, httpClient *http.Client, cfg config.MCPConfig, logger *slog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		client:  httpClient,
		cfg:     cfg,
		logger:  logger,
		clients: map[uuid.UUID]*Client{},
		servers: map[uuid.UUID]domain.MCPServer{},
	}
}

// RefreshServers reconciles the client set against the persisted server
// list: clients for deleted or disabled servers are dropped, enabled
// servers without a client get one.
func (m *Manager) RefreshServers(ctx context.Context) error {
	servers, err := m.repo.ListMCPServers(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	enabled := map[uuid.UUID]domain.MCPServer{}
	for _, server := range servers {
		if server.Enabled {
			enabled[server.ID] = server
		}
	}

	for id, client := range m.clients {
		if _, ok := enabled[id]; !ok {
			client.Disconnect()
			delete(m.clients, id)
			delete(m.servers, id)
		}
	}

	for id, server := range enabled {
		m.servers[id] = server
		if _, ok := m.clients[id]; !ok {
			m.clients[id] = NewClient(server, m.client, m.cfg, m.logger, nil)
		}
	}
	return nil
}

// ConnectionStatus returns the server's current state; unknown servers are
// idle.
func (m *Manager) ConnectionStatus(serverID uuid.UUID) ConnectionStatus {
	m.mu.Lock()
	client, ok := m.clients[serverID]
	m.mu.Unlock()
	if !ok {
		return ConnectionStatus{State: StateIdle}
	}
	return client.Status()
}

// SyncTools connects to the server, fetches its tool list, and reconciles
// the persisted tools (update matches, insert new, prune vanished). The
// resulting state is connected with the fetched tool count, or error.
func (m *Manager) SyncTools(ctx context.Context, serverID uuid.UUID) error {
	m.mu.Lock()
	client, ok := m.clients[serverID]
	m.mu.Unlock()
	if !ok {
		return domain.NewDomainError("mcp.SyncTools", domain.ErrInvalidConfiguration, serverID.String())
	}

	if err := client.Connect(ctx); err != nil {
		return m.recordFailure(ctx, serverID, client, err)
	}
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return m.recordFailure(ctx, serverID, client, err)
	}

	fetched := make([]domain.MCPTool, 0, len(descriptors))
	for _, d := range descriptors {
		fetched = append(fetched, domain.MCPTool{
			ServerID:    serverID,
			Name:        d.Identifier.ToolName,
			Description: d.Description,
			SchemaJSON:  d.SchemaJSON,
			Enabled:     true,
		})
	}
	if err := m.repo.SyncServerTools(ctx, serverID, fetched); err != nil {
		return m.recordFailure(ctx, serverID, client, err)
	}

	client.SetConnected(len(descriptors))
	if err := m.repo.SetMCPServerError(ctx, serverID, ""); err != nil {
		m.logger.Warn("clearing server error failed", "server", serverID, "error", err)
	}
	return nil
}

// RegisteredTools returns the remote tools exposed to a conversation: the
// enabled tools of every enabled server the conversation selected.
func (m *Manager) RegisteredTools(ctx context.Context, conversation domain.Conversation) ([]RegisteredTool, error) {
	selections, err := m.repo.SelectionsForConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	var out []RegisteredTool
	for _, sel := range selections {
		m.mu.Lock()
		server, ok := m.servers[sel.ServerID]
		m.mu.Unlock()
		if !ok {
			continue
		}

		tools, err := m.repo.ToolsForServer(ctx, sel.ServerID)
		if err != nil {
			return nil, err
		}
		for _, tool := range tools {
			if !tool.Enabled {
				continue
			}
			schema := strings.TrimSpace(tool.SchemaJSON)
			if schema == "" {
				schema = DefaultSchemaJSON
			}
			out = append(out, RegisteredTool{
				Descriptor: ToolDescriptor{
					Identifier:  ToolIdentifier{ServerID: server.ID, ToolName: tool.Name},
					Description: tool.Description,
					SchemaJSON:  schema,
				},
				ServerName: server.DisplayName,
			})
		}
	}
	return out, nil
}

// InvokeTool dispatches a tool call to the owning server's client.
func (m *Manager) InvokeTool(ctx context.Context, identifier ToolIdentifier, argumentsJSON string) (string, error) {
	m.mu.Lock()
	client, ok := m.clients[identifier.ServerID]
	m.mu.Unlock()
	if !ok {
		return "", domain.NewDomainError("mcp.InvokeTool", domain.ErrInvalidConfiguration, identifier.QualifiedName())
	}
	return client.InvokeTool(ctx, identifier.ToolName, argumentsJSON)
}

// DisconnectAll drops every client and returns their servers to idle.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		client.Disconnect()
		delete(m.clients, id)
		delete(m.servers, id)
	}
}

func (m *Manager) recordFailure(ctx context.Context, serverID uuid.UUID, client *Client, err error) error {
	client.SetError(err.Error())
	if storeErr := m.repo.SetMCPServerError(ctx, serverID, err.Error()); storeErr != nil {
		m.logger.Warn("recording server error failed", "server", serverID, "error", storeErr)
	}
	return err
}
