package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatcore/internal/domain"
)

func geminiTestAdapter() *GeminiAdapter {
	return NewGeminiAdapter(domain.Provider{
		Nickname: "gem",
		Type:     domain.ProviderGemini,
		APIKey:   "test-key",
	}, http.DefaultClient, newTestLogger())
}

func TestGeminiConvertRequest(t *testing.T) {
	a := geminiTestAdapter()

	req, err := a.ConvertRequest(domain.ChatRequest{
		Model:       "gemini-1.5-pro",
		Temperature: 0.3,
		Stream:      true,
		Messages: []domain.UnifiedMessage{
			domain.NewMessage(domain.RoleSystem, "be brief"),
			domain.NewMessage(domain.RoleUser, "hi"),
			domain.NewMessage(domain.RoleAssistant, "hello"),
		},
	})
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}

	if !strings.Contains(req.URL.Path, "gemini-1.5-pro:streamGenerateContent") {
		t.Errorf("path = %s", req.URL.Path)
	}
	if got := req.URL.Query().Get("key"); got != "test-key" {
		t.Errorf("key query param = %q", got)
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("x-api-key") != "" {
		t.Error("gemini auth must travel as a query parameter only")
	}

	var body geminiRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("systemInstruction = %+v", body.SystemInstruction)
	}
	if len(body.Contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(body.Contents))
	}
	if body.Contents[0].Role != "user" || body.Contents[1].Role != "model" {
		t.Errorf("roles = %s, %s", body.Contents[0].Role, body.Contents[1].Role)
	}
	if body.GenerationConfig.Temperature != 0.3 {
		t.Errorf("temperature = %v", body.GenerationConfig.Temperature)
	}
}

func TestGeminiConvertRequestNonStreaming(t *testing.T) {
	a := geminiTestAdapter()

	req, err := a.ConvertRequest(domain.ChatRequest{
		Model:    "gemini-1.5-flash",
		Messages: []domain.UnifiedMessage{domain.NewMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}
	if !strings.Contains(req.URL.Path, ":generateContent") {
		t.Errorf("path = %s", req.URL.Path)
	}
}

func TestGeminiParseStreamChunk(t *testing.T) {
	a := geminiTestAdapter()

	// Array framing lines of the streamed JSON are harmless.
	for _, line := range []string{"[", ",", "]", ""} {
		chunk, err := a.ParseStreamChunk([]byte(line))
		if err != nil || chunk != nil {
			t.Errorf("ParseStreamChunk(%q) = %+v, %v; want nil, nil", line, chunk, err)
		}
	}

	chunk, err := a.ParseStreamChunk([]byte(`{"candidates":[{"content":{"parts":[{"text":"hey"}]}}]}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if chunk.Content != "hey" || chunk.Finished {
		t.Errorf("chunk = %+v", chunk)
	}

	chunk, err = a.ParseStreamChunk([]byte(`{"candidates":[{"content":{"parts":[{"text":"done"}]},"finishReason":"STOP"}]}`))
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if !chunk.Finished || chunk.FinishReason != "STOP" || chunk.Content != "done" {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestGeminiParseResponse(t *testing.T) {
	a := geminiTestAdapter()

	resp, err := a.ParseResponse([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"answer"}]},"finishReason":"STOP"}]}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "answer" || resp.FinishReason != "STOP" {
		t.Errorf("resp = %+v", resp)
	}

	if _, err := a.ParseResponse([]byte(`{"candidates":[]}`)); !errors.Is(err, domain.ErrDecoding) {
		t.Errorf("empty candidates err = %v, want ErrDecoding", err)
	}
}

func TestGeminiFetchModelsFiltersAndStripsPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"models":[
			{"name":"models/gemini-1.5-pro","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]}
		]}`)
	}))
	defer server.Close()

	a := geminiTestAdapter()
	// Point the fixed base at the test server through a rewriting transport.
	a.client = &http.Client{Transport: rewriteHost(server)}

	models, err := a.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 1 || models[0] != "gemini-1.5-pro" {
		t.Errorf("models = %v", models)
	}
}

// rewriteHost redirects every request to the given test server.
func rewriteHost(server *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		target := server.URL + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		redirected, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
		if err != nil {
			return nil, err
		}
		redirected.Header = req.Header
		return server.Client().Do(redirected)
	})
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
