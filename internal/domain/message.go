package domain

import "encoding/json"

// Role constants for chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// UnifiedMessage is a single chat turn in the provider-agnostic model.
// At most one of ToolCalls (an assistant tool invocation) or ToolCallID
// (a tool-result answering that invocation) is meaningfully populated,
// depending on the role. A RoleTool message always carries the ToolCallID
// of the call it answers.
type UnifiedMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewMessage creates a plain message with no tool-call fields.
func NewMessage(role, content string) UnifiedMessage {
	return UnifiedMessage{Role: role, Content: content}
}

// NewToolCallMessage creates an assistant message carrying tool invocations.
func NewToolCallMessage(content string, calls []ToolCall) UnifiedMessage {
	return UnifiedMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultMessage creates a RoleTool message answering the given call.
func NewToolResultMessage(content, toolCallID string) UnifiedMessage {
	return UnifiedMessage{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCall represents a model's request to invoke a tool. Arguments holds
// the raw JSON string as received from the provider; it is not parsed until
// dispatch.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is an incremental fragment of a streamed tool call.
// Deltas sharing Index accumulate into one ToolCall: ID and Name arrive at
// most once, Arguments fragments are concatenated in arrival order.
type ToolCallDelta struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Index     int    `json:"index"`
}

// FunctionTool describes a callable tool for the function-calling protocol.
type FunctionTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest is the unified request sent to any provider adapter.
type ChatRequest struct {
	Messages    []UnifiedMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
	Model       string           `json:"model"`
	Tools       []FunctionTool   `json:"tools,omitempty"`
	ToolChoice  ToolChoice       `json:"tool_choice,omitempty"`
}

// ChatResponse is the unified non-streaming result.
type ChatResponse struct {
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	FinishReason     string     `json:"finish_reason,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is one parsed unit of a streaming response. Once Finished is
// true no further chunks are consumed from that stream.
type StreamChunk struct {
	Content        string          `json:"content,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	ToolCallDeltas []ToolCallDelta `json:"tool_call_deltas,omitempty"`
	FinishReason   string          `json:"finish_reason,omitempty"`
	Finished       bool            `json:"finished"`
}
