package usecase

import (
	"chatcore/internal/adapter/mcp"
	"chatcore/internal/domain"
)

// ToolRegistry maps the qualified function names sent to the model back to
// the remote tools they came from. Install replaces the whole mapping, so a
// registry always reflects the tool set of the request it was built for.
type ToolRegistry struct {
	lookup map[string]mcp.RegisteredTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{lookup: map[string]mcp.RegisteredTool{}}
}

// Install replaces the registry contents with the given remote tools and
// returns their function-tool representations for the outgoing request.
func (r *ToolRegistry) Install(remote []mcp.RegisteredTool) []domain.FunctionTool {
	r.lookup = make(map[string]mcp.RegisteredTool, len(remote))
	tools := make([]domain.FunctionTool, 0, len(remote))
	for _, tool := range remote {
		fn := tool.FunctionTool()
		r.lookup[fn.Name] = tool
		tools = append(tools, fn)
	}
	return tools
}

// Lookup resolves a qualified function name to its remote tool.
func (r *ToolRegistry) Lookup(functionName string) (mcp.RegisteredTool, bool) {
	tool, ok := r.lookup[functionName]
	return tool, ok
}
