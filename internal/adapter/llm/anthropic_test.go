package llm

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"chatcore/internal/domain"
)

func anthropicTestAdapter() *AnthropicAdapter {
	return NewAnthropicAdapter(domain.Provider{
		Nickname: "claude",
		Type:     domain.ProviderAnthropic,
		APIKey:   "test-key",
	}, http.DefaultClient, newTestLogger())
}

func TestAnthropicConvertRequestExtractsSystem(t *testing.T) {
	a := anthropicTestAdapter()

	req, err := a.ConvertRequest(domain.ChatRequest{
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: 0.5,
		Messages: []domain.UnifiedMessage{
			domain.NewMessage(domain.RoleSystem, "be terse"),
			domain.NewMessage(domain.RoleUser, "hi"),
			domain.NewMessage(domain.RoleAssistant, "hello"),
		},
	})
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}

	if got := req.Header.Get("x-api-key"); got != "test-key" {
		t.Errorf("x-api-key = %q", got)
	}
	if got := req.Header.Get("anthropic-version"); got != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q", got)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("bearer auth must not be set for anthropic")
	}

	var body anthropicRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.System != "be terse" {
		t.Errorf("system = %q", body.System)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (system extracted)", len(body.Messages))
	}
	if body.MaxTokens != anthropicMaxTokens {
		t.Errorf("max_tokens = %d", body.MaxTokens)
	}
}

func TestAnthropicParseStreamChunk(t *testing.T) {
	a := anthropicTestAdapter()

	chunk, err := a.ParseStreamChunk([]byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hey"}}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if chunk.Content != "hey" || chunk.Finished {
		t.Errorf("chunk = %+v", chunk)
	}

	chunk, err = a.ParseStreamChunk([]byte(`data: {"type":"message_stop"}`))
	if err != nil || !chunk.Finished {
		t.Errorf("message_stop chunk = %+v, err %v", chunk, err)
	}

	// Other typed events are ignored.
	chunk, err = a.ParseStreamChunk([]byte(`data: {"type":"message_start","message":{}}`))
	if err != nil || chunk != nil {
		t.Errorf("message_start = %+v, %v; want nil, nil", chunk, err)
	}

	// Non-data lines are framing.
	chunk, err = a.ParseStreamChunk([]byte("event: content_block_delta"))
	if err != nil || chunk != nil {
		t.Errorf("event line = %+v, %v; want nil, nil", chunk, err)
	}

	if _, err := a.ParseStreamChunk([]byte("data: {broken")); !errors.Is(err, domain.ErrDecoding) {
		t.Errorf("corrupt payload err = %v, want ErrDecoding", err)
	}
}

func TestAnthropicParseResponse(t *testing.T) {
	a := anthropicTestAdapter()

	resp, err := a.ParseResponse([]byte(`{"content":[{"type":"text","text":"result"}],"stop_reason":"end_turn"}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "result" || resp.FinishReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}

	if _, err := a.ParseResponse([]byte(`{"content":[]}`)); !errors.Is(err, domain.ErrDecoding) {
		t.Errorf("empty content err = %v, want ErrDecoding", err)
	}
}
