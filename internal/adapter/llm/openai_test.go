package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatcore/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func customProvider(baseURL string) domain.Provider {
	return domain.Provider{
		Nickname: "test",
		Type:     domain.ProviderCustom,
		BaseURL:  baseURL,
		APIKey:   "test-key",
	}
}

func TestOpenAIChatEndpointSuffixRule(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.example.com", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/", "https://api.example.com/chat/completions"},
		{"https://api.example.com/custom#", "https://api.example.com/custom"},
	}
	for _, tc := range cases {
		a := NewOpenAIAdapter(customProvider(tc.base), http.DefaultClient, newTestLogger())
		got, err := a.chatEndpoint()
		if err != nil {
			t.Fatalf("chatEndpoint(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("chatEndpoint(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestOpenAIModelsEndpointSuffixRule(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.example.com", "https://api.example.com/v1/models"},
		{"https://api.example.com/", "https://api.example.com/models"},
		{"https://api.example.com/custom#", "https://api.example.com/custom"},
	}
	for _, tc := range cases {
		a := NewOpenAIAdapter(customProvider(tc.base), http.DefaultClient, newTestLogger())
		got, err := a.modelsEndpoint()
		if err != nil {
			t.Fatalf("modelsEndpoint(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("modelsEndpoint(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestOpenAIChatEndpointInvalidURL(t *testing.T) {
	a := NewOpenAIAdapter(customProvider(""), http.DefaultClient, newTestLogger())
	if _, err := a.chatEndpoint(); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestOpenAIConvertRequest(t *testing.T) {
	a := NewOpenAIAdapter(customProvider("https://api.example.com"), http.DefaultClient, newTestLogger())

	req, err := a.ConvertRequest(domain.ChatRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		Stream:      true,
		Messages: []domain.UnifiedMessage{
			domain.NewMessage(domain.RoleSystem, "be brief"),
			domain.NewMessage(domain.RoleUser, "hi"),
			domain.NewToolResultMessage("42", "call_1"),
		},
		Tools: []domain.FunctionTool{
			{Name: "save_memory", Description: "save", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
		ToolChoice: domain.ToolChoiceAuto,
	})
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}

	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("auth header = %q", got)
	}

	var body openaiRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Model != "gpt-4o-mini" || !body.Stream || body.Temperature != 0.7 {
		t.Errorf("body = %+v", body)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(body.Messages))
	}
	if body.Messages[2].Role != domain.RoleTool || body.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool result message = %+v", body.Messages[2])
	}
	if len(body.Tools) != 1 || body.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", body.Tools)
	}
	if body.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q", body.ToolChoice)
	}
}

func TestOpenAIConvertRequestOpenRouterHeaders(t *testing.T) {
	a := NewOpenAIAdapter(domain.Provider{
		Nickname: "or",
		Type:     domain.ProviderOpenRouter,
		APIKey:   "k",
	}, http.DefaultClient, newTestLogger())

	req, err := a.ConvertRequest(domain.ChatRequest{Model: "m", Messages: []domain.UnifiedMessage{
		domain.NewMessage(domain.RoleUser, "hi"),
	}})
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}
	if req.URL.String() != openrouterChatURL {
		t.Errorf("url = %s", req.URL)
	}
	if req.Header.Get("HTTP-Referer") == "" || req.Header.Get("X-Title") == "" {
		t.Error("missing OpenRouter identifying headers")
	}
}

func TestOpenAIParseStreamChunk(t *testing.T) {
	a := NewOpenAIAdapter(customProvider("https://api.example.com"), http.DefaultClient, newTestLogger())

	// Non-data lines are framing, not errors.
	for _, line := range []string{"", ": keep-alive", "event: message"} {
		chunk, err := a.ParseStreamChunk([]byte(line))
		if err != nil || chunk != nil {
			t.Errorf("ParseStreamChunk(%q) = %v, %v; want nil, nil", line, chunk, err)
		}
	}

	chunk, err := a.ParseStreamChunk([]byte(`data: {"choices":[{"delta":{"content":"hel","reasoning_content":"thinking"}}]}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if chunk.Content != "hel" || chunk.Reasoning != "thinking" || chunk.Finished {
		t.Errorf("chunk = %+v", chunk)
	}

	chunk, err = a.ParseStreamChunk([]byte(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if !chunk.Finished || chunk.FinishReason != "stop" {
		t.Errorf("chunk = %+v", chunk)
	}

	chunk, err = a.ParseStreamChunk([]byte("data: [DONE]"))
	if err != nil || !chunk.Finished {
		t.Errorf("[DONE] chunk = %+v, err %v", chunk, err)
	}

	if _, err := a.ParseStreamChunk([]byte("data: {not json")); !errors.Is(err, domain.ErrDecoding) {
		t.Errorf("corrupt payload err = %v, want ErrDecoding", err)
	}
}

func TestOpenAIParseStreamChunkToolCallDeltas(t *testing.T) {
	a := NewOpenAIAdapter(customProvider("https://api.example.com"), http.DefaultClient, newTestLogger())

	chunk, err := a.ParseStreamChunk([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"save_memory","arguments":""}},{"index":1,"function":{"arguments":"{\"a\":1}"}}]}}]}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if len(chunk.ToolCallDeltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(chunk.ToolCallDeltas))
	}
	first := chunk.ToolCallDeltas[0]
	if first.Index != 0 || first.ID != "call_1" || first.Name != "save_memory" {
		t.Errorf("first delta = %+v", first)
	}
	second := chunk.ToolCallDeltas[1]
	if second.Index != 1 || second.Arguments != `{"a":1}` {
		t.Errorf("second delta = %+v", second)
	}
}

func TestOpenAIParseResponse(t *testing.T) {
	a := NewOpenAIAdapter(customProvider("https://api.example.com"), http.DefaultClient, newTestLogger())

	resp, err := a.ParseResponse([]byte(`{
		"choices":[{
			"message":{
				"content":"done",
				"reasoning_content":"why",
				"tool_calls":[
					{"id":"call_1","function":{"name":"save_memory","arguments":"{}"}},
					{"id":"","function":{"name":"broken","arguments":"{}"}}
				]
			},
			"finish_reason":"tool_calls"
		}]
	}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "done" || resp.ReasoningContent != "why" || resp.FinishReason != "tool_calls" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("incomplete tool call not dropped: %+v", resp.ToolCalls)
	}

	if _, err := a.ParseResponse([]byte(`{"choices":[]}`)); !errors.Is(err, domain.ErrDecoding) {
		t.Errorf("empty choices err = %v, want ErrDecoding", err)
	}
}

func TestOpenAIFetchModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`)
	}))
	defer server.Close()

	a := NewOpenAIAdapter(customProvider(server.URL), server.Client(), newTestLogger())
	models, err := a.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 2 || models[0] != "gpt-4o" {
		t.Errorf("models = %v", models)
	}
}

func TestOpenAIFetchModelsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewOpenAIAdapter(customProvider(server.URL), server.Client(), newTestLogger())
	if _, err := a.FetchModels(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestForProviderSelection(t *testing.T) {
	logger := newTestLogger()
	cases := []struct {
		typ  domain.ProviderType
		want string
	}{
		{domain.ProviderOpenAI, "*llm.OpenAIAdapter"},
		{domain.ProviderOpenRouter, "*llm.OpenAIAdapter"},
		{domain.ProviderCustom, "*llm.OpenAIAdapter"},
		{domain.ProviderAnthropic, "*llm.AnthropicAdapter"},
		{domain.ProviderGemini, "*llm.GeminiAdapter"},
	}
	for _, tc := range cases {
		a := ForProvider(domain.Provider{Type: tc.typ}, http.DefaultClient, logger)
		var got string
		switch a.(type) {
		case *OpenAIAdapter:
			got = "*llm.OpenAIAdapter"
		case *AnthropicAdapter:
			got = "*llm.AnthropicAdapter"
		case *GeminiAdapter:
			got = "*llm.GeminiAdapter"
		}
		if got != tc.want {
			t.Errorf("ForProvider(%s) = %s, want %s", tc.typ, got, tc.want)
		}
	}
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, strings.Join([]string{
			`data: {"choices":[{"delta":{"content":"hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
			"",
		}, "\n"))
	}))
	defer server.Close()

	client := NewClient(customProvider(server.URL), server.Client(), newTestLogger())
	ch, err := client.Stream(context.Background(), domain.ChatRequest{
		Model:    "m",
		Messages: []domain.UnifiedMessage{domain.NewMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content strings.Builder
	var finished bool
	for chunk := range ch {
		content.WriteString(chunk.Content)
		if chunk.Finished {
			finished = true
		}
	}
	if content.String() != "hello" {
		t.Errorf("content = %q, want %q", content.String(), "hello")
	}
	if !finished {
		t.Error("stream never finished")
	}
}

func TestClientSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewClient(customProvider(server.URL), server.Client(), newTestLogger())
	resp, err := client.Send(context.Background(), domain.ChatRequest{
		Model:    "m",
		Messages: []domain.UnifiedMessage{domain.NewMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
}
