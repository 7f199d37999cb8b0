package usecase

import (
	"encoding/json"

	"chatcore/internal/domain"
)

// Built-in memory tool names.
const (
	ToolSaveMemory     = "save_memory"
	ToolRetrieveMemory = "retrieve_memory"
	ToolUpdateMemory   = "update_memory"
)

// MemoryTools returns the built-in memory function tools and the tool choice
// matching the config. A disabled memory feature means no tools and an
// explicit none, so the model cannot attempt a call.
func MemoryTools(cfg domain.MemoryConfig) ([]domain.FunctionTool, domain.ToolChoice) {
	if !cfg.MemoryEnabled {
		return nil, domain.ToolChoiceNone
	}
	return []domain.FunctionTool{
		{
			Name:        ToolSaveMemory,
			Description: "Save an important fact about the user for future conversations.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {
						"type": "string",
						"description": "The fact to remember"
					}
				},
				"required": ["content"]
			}`),
		},
		{
			Name:        ToolRetrieveMemory,
			Description: "Retrieve previously saved facts relevant to the given keywords.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"keywords": {
						"type": "string",
						"description": "Keywords separated by semicolons"
					}
				},
				"required": ["keywords"]
			}`),
		},
		{
			Name:        ToolUpdateMemory,
			Description: "Replace the content of a previously saved fact.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"original": {
						"type": "string",
						"description": "The exact current content of the fact"
					},
					"replacement": {
						"type": "string",
						"description": "The new content"
					}
				},
				"required": ["original", "replacement"]
			}`),
		},
	}, domain.ToolChoiceAuto
}

// IsMemoryTool reports whether a function name is one of the built-in
// memory tools.
func IsMemoryTool(name string) bool {
	switch name {
	case ToolSaveMemory, ToolRetrieveMemory, ToolUpdateMemory:
		return true
	}
	return false
}
