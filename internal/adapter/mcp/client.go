package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// maxRPCBody caps JSON-RPC response bodies.
const maxRPCBody = 4 * 1024 * 1024

// Client is a JSON-RPC 2.0 over HTTP POST client for one MCP server. It
// tracks the server's connection state and rate-limits outgoing calls.
type Client struct {
	server  domain.MCPServer
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	status   ConnectionStatus
	onStatus func(ConnectionStatus)
}

// NewClient creates a client for the given server. onStatus, when non-nil,
// is invoked after every state change.
func NewClient(server domain.MCPServer, httpClient *http.Client, cfg config.MCPConfig, logger *slog.Logger, onStatus func(ConnectionStatus)) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		server:   server,
		client:   httpClient,
		limiter:  limiter,
		logger:   logger,
		status:   ConnectionStatus{State: StateIdle},
		onStatus: onStatus,
	}
}

// Server returns the configuration this client talks to.
func (c *Client) Server() domain.MCPServer { return c.server }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect validates the server's transport and endpoint configuration and
// transitions to connected. Calling Connect while already connecting is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status.State == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.setStatus(ConnectionStatus{State: StateConnecting})

	if c.server.Transport != domain.TransportHTTP {
		err := domain.NewDomainError("mcp.Connect", domain.ErrNotImplemented, string(c.server.Transport))
		c.setStatus(ConnectionStatus{State: StateError, Message: err.Error()})
		return err
	}
	if _, err := c.endpointURL(); err != nil {
		c.setStatus(ConnectionStatus{State: StateError, Message: err.Error()})
		return err
	}
	c.setStatus(ConnectionStatus{State: StateConnected})
	return nil
}

// Disconnect returns the client to idle.
func (c *Client) Disconnect() {
	c.setStatus(ConnectionStatus{State: StateIdle})
}

// ListTools issues tools/list and normalizes the response. Servers answer
// with {tools:[...]}, {items:[...]}, or a bare array; all three are
// accepted. Tools without a name are dropped; missing descriptions and
// schemas get defaults.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	payloads, err := normalizeToolPayloads(result)
	if err != nil {
		return nil, err
	}

	descriptors := make([]ToolDescriptor, 0, len(payloads))
	for _, payload := range payloads {
		name, _ := payload["name"].(string)
		if name == "" {
			c.logger.Debug("dropping nameless tool", "server", c.server.Identifier)
			continue
		}
		description, _ := payload["description"].(string)
		if description == "" {
			description = defaultToolDescription
		}
		schema := payload["input_schema"]
		if schema == nil {
			schema = payload["schema"]
		}
		descriptors = append(descriptors, ToolDescriptor{
			Identifier:  ToolIdentifier{ServerID: c.server.ID, ToolName: name},
			Description: description,
			SchemaJSON:  schemaJSONString(schema),
		})
	}
	return descriptors, nil
}

// InvokeTool issues tools/call and stringifies the result: strings and
// numbers pass through verbatim, null becomes the empty string, structured
// results are pretty-printed JSON.
func (c *Client) InvokeTool(ctx context.Context, name, argumentsJSON string) (string, error) {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(argumentsJSON), &arguments); err != nil {
		return "", fmt.Errorf("%w: tool arguments are not a JSON object", domain.ErrProtocolViolation)
	}

	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", err
	}
	return stringifyResult(result), nil
}

// endpointURL resolves where RPC requests go: an absolute command path is
// used verbatim, a relative one resolves against the base URL, otherwise
// the base URL itself serves.
func (c *Client) endpointURL() (string, error) {
	command := strings.TrimSpace(c.server.CommandPath)
	if command != "" {
		if u, err := url.Parse(command); err == nil && u.Scheme != "" {
			return command, nil
		}
		if c.server.BaseURL != "" {
			base, err := url.Parse(c.server.BaseURL)
			if err == nil {
				rel, err := url.Parse(command)
				if err == nil {
					return base.ResolveReference(rel).String(), nil
				}
			}
		}
	}
	if c.server.BaseURL != "" {
		if _, err := url.Parse(c.server.BaseURL); err == nil {
			return c.server.BaseURL, nil
		}
	}
	return "", domain.NewDomainError("mcp.endpoint", domain.ErrInvalidConfiguration, c.server.Identifier)
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  any             `json:"params"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call issues one JSON-RPC request. Custom headers from the server config
// are attached to every request.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint, err := c.endpointURL()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrProtocolViolation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewDomainError("mcp.call", domain.ErrInvalidConfiguration, endpoint)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.server.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxRPCBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransportUnavailable, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		// Some servers put a JSON-RPC error envelope on non-2xx responses.
		var envelope rpcEnvelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			return nil, envelope.Error
		}
		return nil, &HTTPError{Status: httpResp.StatusCode, Body: string(body)}
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object", domain.ErrProtocolViolation)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if len(envelope.Result) == 0 {
		return nil, fmt.Errorf("%w: response carries no result", domain.ErrProtocolViolation)
	}
	return envelope.Result, nil
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	c.status = status
	callback := c.onStatus
	c.mu.Unlock()
	if callback != nil {
		callback(status)
	}
}

// SetConnected records a successful sync with the reported tool count.
func (c *Client) SetConnected(toolCount int) {
	c.setStatus(ConnectionStatus{State: StateConnected, ToolCount: toolCount})
}

// SetError records a failed connection or sync.
func (c *Client) SetError(message string) {
	c.setStatus(ConnectionStatus{State: StateError, Message: message})
}

// normalizeToolPayloads accepts the three response shapes servers use for
// tools/list.
func normalizeToolPayloads(result json.RawMessage) ([]map[string]any, error) {
	var wrapped struct {
		Tools []map[string]any `json:"tools"`
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil {
		if wrapped.Tools != nil {
			return wrapped.Tools, nil
		}
		if wrapped.Items != nil {
			return wrapped.Items, nil
		}
	}
	var bare []map[string]any
	if err := json.Unmarshal(result, &bare); err == nil {
		return bare, nil
	}
	// A wrapped object without tools/items keys lists zero tools.
	if bytes.HasPrefix(bytes.TrimSpace(result), []byte("{")) {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unrecognized tools/list shape", domain.ErrProtocolViolation)
}

// schemaJSONString renders a reported schema (string or structured) as a
// JSON string, falling back to the permissive default.
func schemaJSONString(schema any) string {
	switch v := schema.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any, []any:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return DefaultSchemaJSON
}

// stringifyResult converts a tools/call result to the text handed back to
// the model.
func stringifyResult(result json.RawMessage) string {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		return str
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, trimmed, "", "  "); err == nil {
			return pretty.String()
		}
	}

	// Numbers and booleans pass through as their literal text.
	return string(trimmed)
}
