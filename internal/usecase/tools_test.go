package usecase

import (
	"encoding/json"
	"testing"

	"chatcore/internal/domain"
)

func TestMemoryToolsDisabled(t *testing.T) {
	tools, choice := MemoryTools(domain.MemoryConfig{MemoryEnabled: false})
	if len(tools) != 0 {
		t.Errorf("tools = %+v, want none while disabled", tools)
	}
	if choice != domain.ToolChoiceNone {
		t.Errorf("choice = %q, want none", choice)
	}
}

func TestMemoryToolsEnabled(t *testing.T) {
	tools, choice := MemoryTools(domain.MemoryConfig{MemoryEnabled: true})
	if choice != domain.ToolChoiceAuto {
		t.Errorf("choice = %q, want auto", choice)
	}
	if len(tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(tools))
	}

	required := map[string][]string{
		ToolSaveMemory:     {"content"},
		ToolRetrieveMemory: {"keywords"},
		ToolUpdateMemory:   {"original", "replacement"},
	}
	for _, tool := range tools {
		want, ok := required[tool.Name]
		if !ok {
			t.Errorf("unexpected tool %q", tool.Name)
			continue
		}
		var schema struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
			Required   []string                   `json:"required"`
		}
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			t.Errorf("%s schema invalid: %v", tool.Name, err)
			continue
		}
		if schema.Type != "object" {
			t.Errorf("%s schema type = %q", tool.Name, schema.Type)
		}
		if len(schema.Required) != len(want) {
			t.Errorf("%s required = %v, want %v", tool.Name, schema.Required, want)
			continue
		}
		for i, field := range want {
			if schema.Required[i] != field {
				t.Errorf("%s required[%d] = %q, want %q", tool.Name, i, schema.Required[i], field)
			}
			if _, ok := schema.Properties[field]; !ok {
				t.Errorf("%s missing property %q", tool.Name, field)
			}
		}
	}
}

func TestIsMemoryTool(t *testing.T) {
	for _, name := range []string{ToolSaveMemory, ToolRetrieveMemory, ToolUpdateMemory} {
		if !IsMemoryTool(name) {
			t.Errorf("IsMemoryTool(%q) = false", name)
		}
	}
	if IsMemoryTool("mcp::x::y") {
		t.Error("qualified remote name is not a memory tool")
	}
}
