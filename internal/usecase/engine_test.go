package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatcore/internal/adapter/store"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// fakeExchanger replays a scripted sequence of rounds, recording every
// request it receives.
type fakeExchanger struct {
	provider  domain.Provider
	rounds    [][]domain.StreamChunk
	responses []*domain.ChatResponse
	streamErr error
	requests  []domain.ChatRequest
	streamFn  func(ctx context.Context) (<-chan domain.StreamChunk, error)
}

func (f *fakeExchanger) Provider() domain.Provider { return f.provider }

func (f *fakeExchanger) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeExchanger) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	f.requests = append(f.requests, req)
	if f.streamFn != nil {
		return f.streamFn(ctx)
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if len(f.rounds) == 0 {
		return nil, errors.New("no scripted round")
	}
	round := f.rounds[0]
	f.rounds = f.rounds[1:]

	ch := make(chan domain.StreamChunk, len(round))
	for _, chunk := range round {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func openaiProvider() domain.Provider {
	return domain.Provider{ID: "p1", Nickname: "test", Type: domain.ProviderOpenAI, APIKey: "k"}
}

func newTestEngine(t *testing.T, fake *fakeExchanger) (*ChatEngine, *store.Store, domain.Conversation) {
	t.Helper()
	repo := newTestStore(t)
	memory := NewMemoryService(repo, config.MemoryConfig{}, newTestLogger())
	engine := NewChatEngine(repo, fake, memory, nil, config.EngineConfig{MaxToolIterations: 4}, newTestLogger())

	conv := domain.Conversation{
		Title:            "test chat",
		Temperature:      0.7,
		StreamingEnabled: true,
		SelectedModelID:  "gpt-4o",
	}
	if err := repo.CreateConversation(context.Background(), &conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return engine, repo, conv
}

func TestRunTurnStreamsText(t *testing.T) {
	fake := &fakeExchanger{
		provider: openaiProvider(),
		rounds: [][]domain.StreamChunk{{
			{Content: "hel"},
			{Content: "lo"},
			{Finished: true, FinishReason: "stop"},
		}},
	}
	engine, repo, conv := newTestEngine(t, fake)

	msg, err := engine.RunTurn(context.Background(), conv.ID, "say hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q, want %q", msg.Content, "hello")
	}
	if msg.IsStreaming {
		t.Error("message not finalized")
	}

	stored, err := repo.MessagesForConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("MessagesForConversation: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(stored))
	}
	if stored[0].Role != domain.RoleUser || stored[0].Content != "say hello" {
		t.Errorf("user message = %+v", stored[0])
	}

	if len(fake.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(fake.requests))
	}
	req := fake.requests[0]
	if req.Model != "gpt-4o" || req.Temperature != 0.7 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Tools) == 0 || req.ToolChoice != domain.ToolChoiceAuto {
		t.Errorf("memory tools missing: tools=%d choice=%q", len(req.Tools), req.ToolChoice)
	}
}

func TestToolCallDeltaAccumulation(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(domain.ToolCallDelta{Index: 0, ID: "call_1", Name: "save_memory"})
	acc.add(domain.ToolCallDelta{Index: 0, Arguments: `{"content":`})
	acc.add(domain.ToolCallDelta{Index: 0, Arguments: `"x"}`})
	acc.add(domain.ToolCallDelta{Index: 1, ID: "call_2", Name: "retrieve_memory", Arguments: "{}"})

	calls := acc.calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	want := domain.ToolCall{ID: "call_1", Name: "save_memory", Arguments: `{"content":"x"}`}
	if calls[0] != want {
		t.Errorf("calls[0] = %+v, want %+v", calls[0], want)
	}
	if calls[1].Name != "retrieve_memory" {
		t.Errorf("calls[1] = %+v", calls[1])
	}
}

func TestToolCallAccumulatorDropsNameless(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(domain.ToolCallDelta{Index: 0, Arguments: "{}"})
	if calls := acc.calls(); len(calls) != 0 {
		t.Errorf("calls = %+v, want none for nameless delta", calls)
	}
}

func TestRunTurnDispatchesMemoryTool(t *testing.T) {
	fake := &fakeExchanger{
		provider: openaiProvider(),
		rounds: [][]domain.StreamChunk{
			{
				{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "call_1", Name: ToolSaveMemory}}},
				{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, Arguments: `{"content":"likes tea"}`}}},
				{Finished: true, FinishReason: "tool_calls"},
			},
			{
				{Content: "Noted."},
				{Finished: true, FinishReason: "stop"},
			},
		},
	}
	engine, repo, conv := newTestEngine(t, fake)
	ctx := context.Background()

	msg, err := engine.RunTurn(ctx, conv.ID, "remember that I like tea")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if msg.Content != "Noted." {
		t.Errorf("final content = %q", msg.Content)
	}

	records, err := repo.AllMemories(ctx)
	if err != nil {
		t.Fatalf("AllMemories: %v", err)
	}
	if len(records) != 1 || records[0].Content != "likes tea" {
		t.Fatalf("memories = %+v", records)
	}

	stored, _ := repo.MessagesForConversation(ctx, conv.ID)
	// user, assistant invocation, tool result, final assistant
	if len(stored) != 4 {
		t.Fatalf("messages = %d, want 4", len(stored))
	}
	invocation := stored[1]
	if invocation.ToolCallName != ToolSaveMemory || !strings.Contains(invocation.Content, "Invoking") {
		t.Errorf("invocation = %+v", invocation)
	}
	result := stored[2]
	if result.Role != domain.RoleTool || result.Content != "Memory saved." || result.ToolCallID != "call_1" {
		t.Errorf("tool result = %+v", result)
	}

	if len(fake.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(fake.requests))
	}
	second := fake.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != domain.RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("tool result not fed back: %+v", last)
	}
}

func TestRunTurnBoundedToolIterations(t *testing.T) {
	round := []domain.StreamChunk{
		{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "c", Name: ToolRetrieveMemory, Arguments: `{"keywords":"x"}`}}},
		{Finished: true, FinishReason: "tool_calls"},
	}
	fake := &fakeExchanger{
		provider: openaiProvider(),
		rounds:   [][]domain.StreamChunk{round, round, round, round, round},
	}
	engine, _, conv := newTestEngine(t, fake)

	msg, err := engine.RunTurn(context.Background(), conv.ID, "loop forever")
	if !errors.Is(err, domain.ErrMaxToolIterations) {
		t.Fatalf("err = %v, want ErrMaxToolIterations", err)
	}
	if len(fake.requests) != 4 {
		t.Errorf("requests = %d, want 4", len(fake.requests))
	}
	if !strings.Contains(msg.Content, "error") {
		t.Errorf("content = %q, want visible error text", msg.Content)
	}
}

func TestRunTurnToolNotFound(t *testing.T) {
	fake := &fakeExchanger{
		provider: openaiProvider(),
		rounds: [][]domain.StreamChunk{
			{
				{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "c1", Name: "bogus_tool", Arguments: "{}"}}},
				{Finished: true, FinishReason: "tool_calls"},
			},
			{
				{Content: "Sorry, I cannot do that."},
				{Finished: true, FinishReason: "stop"},
			},
		},
	}
	engine, repo, conv := newTestEngine(t, fake)

	if _, err := engine.RunTurn(context.Background(), conv.ID, "use a tool"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	stored, _ := repo.MessagesForConversation(context.Background(), conv.ID)
	var toolResult string
	for _, m := range stored {
		if m.Role == domain.RoleTool {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, "not available") {
		t.Errorf("tool result = %q, want not-available text", toolResult)
	}
}

func TestRunTurnExchangeErrorVisible(t *testing.T) {
	fake := &fakeExchanger{
		provider:  openaiProvider(),
		streamErr: errors.New("connection refused"),
	}
	engine, repo, conv := newTestEngine(t, fake)

	msg, err := engine.RunTurn(context.Background(), conv.ID, "hello")
	if err == nil {
		t.Fatal("RunTurn should propagate the exchange error")
	}
	if !strings.Contains(msg.Content, "connection refused") {
		t.Errorf("content = %q, want visible error", msg.Content)
	}

	stored, _ := repo.GetMessage(context.Background(), msg.ID)
	if stored.IsStreaming {
		t.Error("errored message not finalized")
	}
}

func TestCancelTurnRetainsPartialContent(t *testing.T) {
	delivered := make(chan struct{})
	fake := &fakeExchanger{provider: openaiProvider()}
	fake.streamFn = func(ctx context.Context) (<-chan domain.StreamChunk, error) {
		ch := make(chan domain.StreamChunk)
		go func() {
			ch <- domain.StreamChunk{Content: "partial"}
			close(delivered)
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	engine, _, conv := newTestEngine(t, fake)

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := engine.RunTurn(context.Background(), conv.ID, "long answer please")
		done <- result{msg, err}
	}()

	<-delivered
	engine.CancelTurn(conv.ID)

	r := <-done
	if r.err != nil {
		t.Fatalf("RunTurn after cancel: %v", r.err)
	}
	if r.msg.Content != "partial" {
		t.Errorf("content = %q, want retained partial content", r.msg.Content)
	}
	if r.msg.IsStreaming {
		t.Error("cancelled message not finalized")
	}
}

func TestRunTurnNonStreaming(t *testing.T) {
	fake := &fakeExchanger{
		provider:  openaiProvider(),
		responses: []*domain.ChatResponse{{Content: "blocking answer", FinishReason: "stop"}},
	}
	engine, repo, conv := newTestEngine(t, fake)
	conv.StreamingEnabled = false
	if err := repo.UpdateConversation(context.Background(), conv); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}

	msg, err := engine.RunTurn(context.Background(), conv.ID, "hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if msg.Content != "blocking answer" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestToolsGatedByProviderFamily(t *testing.T) {
	fake := &fakeExchanger{
		provider: domain.Provider{ID: "p2", Nickname: "claude", Type: domain.ProviderAnthropic},
		rounds: [][]domain.StreamChunk{{
			{Content: "hi"},
			{Finished: true},
		}},
	}
	engine, _, conv := newTestEngine(t, fake)

	if _, err := engine.RunTurn(context.Background(), conv.ID, "hello"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(fake.requests) != 1 {
		t.Fatalf("requests = %d", len(fake.requests))
	}
	if len(fake.requests[0].Tools) != 0 {
		t.Errorf("tools = %+v, want none for a text-only family", fake.requests[0].Tools)
	}
}

func TestSystemPromptCarriesMemories(t *testing.T) {
	fake := &fakeExchanger{
		provider: openaiProvider(),
		rounds: [][]domain.StreamChunk{{
			{Content: "ok"},
			{Finished: true},
		}},
	}
	engine, repo, conv := newTestEngine(t, fake)
	ctx := context.Background()

	conv.SystemPrompt = "You are terse."
	if err := repo.UpdateConversation(ctx, conv); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	memory := NewMemoryService(repo, config.MemoryConfig{}, newTestLogger())
	if _, err := memory.SaveMemory(ctx, "user loves cats", conv.ID); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	if _, err := engine.RunTurn(ctx, conv.ID, "tell me about cats"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	req := fake.requests[0]
	if len(req.Messages) == 0 || req.Messages[0].Role != domain.RoleSystem {
		t.Fatalf("messages = %+v, want leading system message", req.Messages)
	}
	system := req.Messages[0].Content
	if !strings.HasPrefix(system, "You are terse.") {
		t.Errorf("system = %q, want configured prompt first", system)
	}
	if !strings.Contains(system, "user loves cats") || !strings.Contains(system, "Disregard") {
		t.Errorf("system = %q, want memory block with disregard note", system)
	}
}
