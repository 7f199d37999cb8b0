package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/adapter/mcp"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/infra/tracer"
)

// Exchanger runs unified chat exchanges against one provider.
type Exchanger interface {
	Provider() domain.Provider
	Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error)
}

// EngineRepository is the slice of the persistence layer the engine needs.
type EngineRepository interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	UpdateConversation(ctx context.Context, c domain.Conversation) error
	CreateMessage(ctx context.Context, m *domain.Message) error
	UpdateMessage(ctx context.Context, m domain.Message) error
	ContextMessages(ctx context.Context, c domain.Conversation) ([]domain.Message, error)
}

// RemoteToolSource exposes remote tools for a conversation and dispatches
// calls to them. Satisfied by *mcp.Manager.
type RemoteToolSource interface {
	RegisteredTools(ctx context.Context, conversation domain.Conversation) ([]mcp.RegisteredTool, error)
	InvokeTool(ctx context.Context, identifier mcp.ToolIdentifier, argumentsJSON string) (string, error)
}

// ChatEngine drives complete conversation turns: it persists the user
// message, opens the exchange, accumulates streamed deltas into the stored
// assistant message, dispatches tool calls, and loops the results back to
// the model until it answers in text or the iteration bound is hit.
//
// Starting a turn supersedes any in-flight turn on the same conversation;
// the superseded turn finalizes whatever partial content it has.
type ChatEngine struct {
	repo      EngineRepository
	exchanger Exchanger
	memory    *MemoryService
	remote    RemoteToolSource
	logger    *slog.Logger

	maxToolIterations int

	mu       sync.Mutex
	inflight map[string]*turn
}

// turn identifies one in-flight exchange so a finished turn only removes
// itself from the registry, never a successor that superseded it.
type turn struct {
	cancel context.CancelFunc
}

// NewChatEngine creates an engine. remote may be nil when no MCP servers
// are configured.
func NewChatEngine(
	repo EngineRepository,
	exchanger Exchanger,
	memory *MemoryService,
	remote RemoteToolSource,
	cfg config.EngineConfig,
	logger *slog.Logger,
) *ChatEngine {
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 4
	}
	return &ChatEngine{
		repo:              repo,
		exchanger:         exchanger,
		memory:            memory,
		remote:            remote,
		logger:            logger,
		maxToolIterations: maxIter,
		inflight:          map[string]*turn{},
	}
}

// CancelTurn cancels the conversation's in-flight turn, if any. The turn
// finalizes its partial content before returning.
func (e *ChatEngine) CancelTurn(conversationID string) {
	e.mu.Lock()
	current, ok := e.inflight[conversationID]
	e.mu.Unlock()
	if ok {
		current.cancel()
	}
}

// RunTurn executes one full turn for the conversation: store the user
// message, exchange with the provider, run tool rounds as requested, and
// return the finalized assistant message. Exchange errors surface both as
// the returned error and as visible text in the stored message, so a
// transcript reader always sees what happened.
func (e *ChatEngine) RunTurn(ctx context.Context, conversationID, userText string) (domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "engine.turn",
		trace.WithAttributes(tracer.StringAttr("conversation", conversationID)))
	defer span.End()

	conv, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}

	ctx, done := e.beginTurn(ctx, conversationID)
	defer done()

	userMsg := domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        userText,
	}
	if err := e.repo.CreateMessage(ctx, &userMsg); err != nil {
		return domain.Message{}, err
	}

	req, registry, err := e.buildRequest(ctx, conv, userText)
	if err != nil {
		return domain.Message{}, err
	}

	assistant, err := e.exchangeLoop(ctx, conv, req, registry)
	if err != nil {
		tracer.RecordError(span, err)
		return assistant, err
	}

	if err := e.repo.UpdateConversation(ctx, conv); err != nil {
		e.logger.Warn("touching conversation failed", "conversation", conv.ID, "error", err)
	}
	tracer.SetOK(span)
	return assistant, nil
}

// beginTurn registers the turn as the conversation's in-flight one,
// cancelling any predecessor.
func (e *ChatEngine) beginTurn(ctx context.Context, conversationID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel}

	e.mu.Lock()
	if prior, ok := e.inflight[conversationID]; ok {
		prior.cancel()
	}
	e.inflight[conversationID] = t
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		if current, ok := e.inflight[conversationID]; ok && current == t {
			delete(e.inflight, conversationID)
		}
		e.mu.Unlock()
		cancel()
	}
}

// buildRequest assembles the unified request: system prompt with memory
// augmentation, prompt history within the context window, and the tool set
// the provider can carry.
func (e *ChatEngine) buildRequest(ctx context.Context, conv domain.Conversation, userText string) (domain.ChatRequest, *ToolRegistry, error) {
	history, err := e.repo.ContextMessages(ctx, conv)
	if err != nil {
		return domain.ChatRequest{}, nil, err
	}

	var messages []domain.UnifiedMessage
	if system := e.systemPrompt(ctx, conv, userText); system != "" {
		messages = append(messages, domain.NewMessage(domain.RoleSystem, system))
	}
	for _, m := range history {
		if m.IsStreaming {
			continue
		}
		messages = append(messages, toUnified(m))
	}

	req := domain.ChatRequest{
		Messages:    messages,
		Temperature: conv.Temperature,
		Model:       conv.SelectedModelID,
	}

	registry := NewToolRegistry()
	if !e.exchanger.Provider().Type.SupportsTools() {
		return req, registry, nil
	}

	memCfg, err := e.memory.GetOrCreateConfig(ctx)
	if err != nil {
		return domain.ChatRequest{}, nil, err
	}
	tools, choice := MemoryTools(memCfg)

	if e.remote != nil {
		remote, err := e.remote.RegisteredTools(ctx, conv)
		if err != nil {
			return domain.ChatRequest{}, nil, err
		}
		tools = append(tools, registry.Install(remote)...)
	}

	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = domain.ToolChoiceAuto
	} else {
		req.ToolChoice = choice
	}
	return req, registry, nil
}

// systemPrompt is the conversation's prompt, augmented with memories
// relevant to the user's message when the feature is on.
func (e *ChatEngine) systemPrompt(ctx context.Context, conv domain.Conversation, userText string) string {
	prompt := strings.TrimSpace(conv.SystemPrompt)

	memories, err := e.memory.RetrieveMemories(ctx, userText, conv.ID)
	if err != nil {
		e.logger.Warn("memory retrieval failed", "conversation", conv.ID, "error", err)
		return prompt
	}
	if memories == "" {
		return prompt
	}

	block := "Previously saved memories about the user:\n\n" + memories +
		"\n\nDisregard any memory that is irrelevant to the current conversation."
	if prompt == "" {
		return block
	}
	return prompt + "\n\n" + block
}

// exchangeLoop runs exchange rounds until the model answers in plain text.
// Each round with tool calls records the invocation, dispatches every call,
// feeds the results back, and starts the next round with a fresh assistant
// record. The round count is bounded; hitting the bound is an error made
// visible in the last assistant message.
func (e *ChatEngine) exchangeLoop(ctx context.Context, conv domain.Conversation, req domain.ChatRequest, registry *ToolRegistry) (domain.Message, error) {
	var assistant domain.Message

	for iteration := 0; iteration < e.maxToolIterations; iteration++ {
		assistant = domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleAssistant,
			IsStreaming:    true,
		}
		if err := e.repo.CreateMessage(ctx, &assistant); err != nil {
			return domain.Message{}, err
		}

		var (
			calls []domain.ToolCall
			err   error
		)
		if conv.StreamingEnabled {
			calls, err = e.streamRound(ctx, &assistant, req)
		} else {
			calls, err = e.sendRound(ctx, &assistant, req)
		}
		if errors.Is(err, context.Canceled) {
			// Superseded or interrupted: keep whatever arrived.
			e.finalize(&assistant)
			return assistant, nil
		}
		if err != nil {
			assistant.Content = errorText(err)
			e.finalize(&assistant)
			return assistant, err
		}

		if len(calls) == 0 {
			e.finalize(&assistant)
			return assistant, nil
		}

		// Record the invocation on the assistant message and append the
		// round to the outgoing history.
		first := calls[0]
		assistant.ToolCallID = first.ID
		assistant.ToolCallName = first.Name
		assistant.ToolCallArgs = first.Arguments
		e.finalize(&assistant)

		req.Messages = append(req.Messages, domain.NewToolCallMessage(assistant.Content, calls))
		for _, call := range calls {
			result := e.dispatchTool(ctx, conv, registry, call)
			toolMsg := domain.Message{
				ConversationID: conv.ID,
				Role:           domain.RoleTool,
				Content:        result,
				ToolCallID:     call.ID,
				ToolCallName:   call.Name,
			}
			if err := e.repo.CreateMessage(ctx, &toolMsg); err != nil {
				return assistant, err
			}
			req.Messages = append(req.Messages, domain.NewToolResultMessage(result, call.ID))
		}
	}

	err := domain.NewDomainError("engine.exchangeLoop", domain.ErrMaxToolIterations,
		fmt.Sprintf("%d rounds", e.maxToolIterations))
	assistant.Content = errorText(err)
	e.finalize(&assistant)
	return assistant, err
}

// streamRound consumes one streamed exchange into the assistant record,
// persisting after every chunk so observers see content grow live.
func (e *ChatEngine) streamRound(ctx context.Context, assistant *domain.Message, req domain.ChatRequest) ([]domain.ToolCall, error) {
	ch, err := e.exchanger.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := newToolCallAccumulator()
	invoking := false
	for chunk := range ch {
		assistant.Content += chunk.Content
		assistant.ReasoningContent += chunk.Reasoning

		for _, delta := range chunk.ToolCallDeltas {
			acc.add(delta)
			if !invoking && delta.Name != "" {
				assistant.Content = fmt.Sprintf("Invoking %s...", delta.Name)
				invoking = true
			}
		}

		if err := e.repo.UpdateMessage(ctx, *assistant); err != nil {
			e.logger.Warn("persisting stream progress failed", "message", assistant.ID, "error", err)
		}
		if chunk.Finished {
			break
		}
	}

	if ctx.Err() != nil {
		return nil, context.Canceled
	}
	return acc.calls(), nil
}

// sendRound performs one blocking exchange into the assistant record.
func (e *ChatEngine) sendRound(ctx context.Context, assistant *domain.Message, req domain.ChatRequest) ([]domain.ToolCall, error) {
	resp, err := e.exchanger.Send(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, err
	}

	assistant.Content = resp.Content
	assistant.ReasoningContent = resp.ReasoningContent
	if len(resp.ToolCalls) > 0 && assistant.Content == "" {
		assistant.Content = fmt.Sprintf("Invoking %s...", resp.ToolCalls[0].Name)
	}
	return resp.ToolCalls, nil
}

// dispatchTool runs one tool call and always returns a textual result; a
// failed or unknown tool becomes a result string the model can react to.
func (e *ChatEngine) dispatchTool(ctx context.Context, conv domain.Conversation, registry *ToolRegistry, call domain.ToolCall) string {
	if IsMemoryTool(call.Name) {
		return e.dispatchMemoryTool(ctx, conv, call)
	}

	if tool, ok := registry.Lookup(call.Name); ok && e.remote != nil {
		result, err := e.remote.InvokeTool(ctx, tool.Descriptor.Identifier, call.Arguments)
		if err != nil {
			e.logger.Warn("remote tool failed", "tool", call.Name, "error", err)
			return fmt.Sprintf("Tool %q failed: %v", call.Name, err)
		}
		return result
	}

	if id, ok := mcp.ParseQualifiedName(call.Name); ok && e.remote != nil {
		result, err := e.remote.InvokeTool(ctx, id, call.Arguments)
		if err != nil {
			e.logger.Warn("remote tool failed", "tool", call.Name, "error", err)
			return fmt.Sprintf("Tool %q failed: %v", call.Name, err)
		}
		return result
	}

	return fmt.Sprintf("Tool %q is not available.", call.Name)
}

func (e *ChatEngine) dispatchMemoryTool(ctx context.Context, conv domain.Conversation, call domain.ToolCall) string {
	var args struct {
		Content     string `json:"content"`
		Keywords    string `json:"keywords"`
		Original    string `json:"original"`
		Replacement string `json:"replacement"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)
	}

	switch call.Name {
	case ToolSaveMemory:
		saved, err := e.memory.SaveMemory(ctx, args.Content, conv.ID)
		if err != nil {
			return fmt.Sprintf("Saving memory failed: %v", err)
		}
		if !saved {
			return "A similar memory already exists."
		}
		return "Memory saved."

	case ToolRetrieveMemory:
		found, err := e.memory.RetrieveMemories(ctx, args.Keywords, conv.ID)
		if err != nil {
			return fmt.Sprintf("Retrieving memories failed: %v", err)
		}
		if found == "" {
			return "No relevant memories found."
		}
		return found

	case ToolUpdateMemory:
		status, err := e.memory.UpdateMemory(ctx, args.Original, args.Replacement)
		if err != nil {
			return fmt.Sprintf("Updating memory failed: %v", err)
		}
		return status
	}
	return fmt.Sprintf("Tool %q is not available.", call.Name)
}

func (e *ChatEngine) finalize(m *domain.Message) {
	m.IsStreaming = false
	if err := e.repo.UpdateMessage(context.Background(), *m); err != nil {
		e.logger.Warn("finalizing message failed", "message", m.ID, "error", err)
	}
}

// toolCallAccumulator assembles streamed tool-call deltas into complete
// calls. Deltas sharing an index belong to one call: the first id and name
// win, argument fragments concatenate in arrival order.
type toolCallAccumulator struct {
	order   []int
	pending map[int]*domain.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{pending: map[int]*domain.ToolCall{}}
}

func (a *toolCallAccumulator) add(delta domain.ToolCallDelta) {
	call, ok := a.pending[delta.Index]
	if !ok {
		call = &domain.ToolCall{}
		a.pending[delta.Index] = call
		a.order = append(a.order, delta.Index)
	}
	if call.ID == "" {
		call.ID = delta.ID
	}
	if call.Name == "" {
		call.Name = delta.Name
	}
	call.Arguments += delta.Arguments
}

// calls returns the completed calls in first-seen order; calls that never
// received a name are dropped.
func (a *toolCallAccumulator) calls() []domain.ToolCall {
	var out []domain.ToolCall
	for _, idx := range a.order {
		call := a.pending[idx]
		if call.Name == "" {
			continue
		}
		out = append(out, *call)
	}
	return out
}

// toUnified converts a stored message to its wire representation.
func toUnified(m domain.Message) domain.UnifiedMessage {
	switch {
	case m.Role == domain.RoleTool:
		return domain.NewToolResultMessage(m.Content, m.ToolCallID)
	case m.Role == domain.RoleAssistant && m.ToolCallName != "":
		return domain.NewToolCallMessage(m.Content, []domain.ToolCall{{
			ID:        m.ToolCallID,
			Name:      m.ToolCallName,
			Arguments: m.ToolCallArgs,
		}})
	default:
		return domain.NewMessage(m.Role, m.Content)
	}
}

func errorText(err error) string {
	return "An error occurred: " + err.Error()
}
