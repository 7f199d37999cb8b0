package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"chatcore/internal/domain"
)

// First-party endpoints for the non-custom subtypes.
const (
	openaiChatURL       = "https://api.openai.com/v1/chat/completions"
	openaiModelsURL     = "https://api.openai.com/v1/models"
	openrouterChatURL   = "https://openrouter.ai/api/v1/chat/completions"
	openrouterModelsURL = "https://openrouter.ai/api/v1/models"
)

// OpenAIAdapter speaks the OpenAI chat-completions wire protocol. It serves
// three provider subtypes: first-party OpenAI, OpenRouter (same protocol
// plus two identifying headers), and custom endpoints resolved from the
// configured base URL by the magic-suffix rule (see chatEndpoint).
type OpenAIAdapter struct {
	provider domain.Provider
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIAdapter creates an adapter for an OpenAI-style provider.
func NewOpenAIAdapter(p domain.Provider, client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{provider: p, client: client, logger: logger}
}

// chatEndpoint resolves the completions URL. Custom base URLs follow the
// magic-suffix rule: a trailing "#" means use the URL verbatim (without the
// marker), a trailing "/" appends "chat/completions" with no version
// segment, anything else appends "/v1/chat/completions".
func (a *OpenAIAdapter) chatEndpoint() (string, error) {
	switch a.provider.Type {
	case domain.ProviderOpenAI:
		return openaiChatURL, nil
	case domain.ProviderOpenRouter:
		return openrouterChatURL, nil
	}

	base := a.provider.BaseURL
	switch {
	case strings.HasSuffix(base, "#"):
		return validateURL(strings.TrimSuffix(base, "#"))
	case strings.HasSuffix(base, "/"):
		return validateURL(base + "chat/completions")
	default:
		return validateURL(base + "/v1/chat/completions")
	}
}

// modelsEndpoint resolves the model-listing URL with the same suffix rule.
func (a *OpenAIAdapter) modelsEndpoint() (string, error) {
	switch a.provider.Type {
	case domain.ProviderOpenAI:
		return openaiModelsURL, nil
	case domain.ProviderOpenRouter:
		return openrouterModelsURL, nil
	}

	base := a.provider.BaseURL
	switch {
	case strings.HasSuffix(base, "#"):
		return validateURL(strings.TrimSuffix(base, "#"))
	case strings.HasSuffix(base, "/"):
		return validateURL(base + "models")
	default:
		return validateURL(base + "/v1/models")
	}
}

func validateURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", domain.NewDomainError("llm.endpoint", domain.ErrInvalidURL, raw)
	}
	return raw, nil
}

// --- wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type,omitempty"`
	Index    *int                   `json:"index,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
}

type openaiChoice struct {
	Message      openaiResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openaiResponseMessage struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	ToolCalls        []openaiToolCall `json:"tool_calls"`
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	ToolCalls        []openaiToolCall `json:"tool_calls"`
}

type openaiModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ConvertRequest implements Adapter.
func (a *OpenAIAdapter) ConvertRequest(req domain.ChatRequest) (*http.Request, error) {
	endpoint, err := a.chatEndpoint()
	if err != nil {
		return nil, err
	}

	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}

	oaiReq := openaiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			oaiReq.Tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		oaiReq.ToolChoice = string(req.ToolChoice)
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError("llm.request", domain.ErrInvalidURL, endpoint)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.provider.APIKey)
	if a.provider.Type == domain.ProviderOpenRouter {
		httpReq.Header.Set("HTTP-Referer", "chatcore")
		httpReq.Header.Set("X-Title", "chatcore/1.0")
	}
	return httpReq, nil
}

// ParseStreamChunk implements Adapter. Only "data: "-prefixed lines carry
// payloads; everything else is SSE framing and yields nil. The literal
// [DONE] sentinel ends the stream.
func (a *OpenAIAdapter) ParseStreamChunk(line []byte) (*domain.StreamChunk, error) {
	if !bytes.HasPrefix(line, []byte("data: ")) {
		return nil, nil
	}
	data := bytes.TrimPrefix(line, []byte("data: "))

	if bytes.Equal(data, []byte("[DONE]")) {
		return &domain.StreamChunk{Finished: true}, nil
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: stream chunk: %v", domain.ErrDecoding, err)
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	choice := chunk.Choices[0]
	out := &domain.StreamChunk{
		Content:   choice.Delta.Content,
		Reasoning: choice.Delta.ReasoningContent,
	}
	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		out.ToolCallDeltas = append(out.ToolCallDeltas, domain.ToolCallDelta{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Index:     index,
		})
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out.FinishReason = *choice.FinishReason
		out.Finished = true
	}
	return out, nil
}

// ParseResponse implements Adapter. A tool call missing any of id, name, or
// arguments is dropped rather than erred.
func (a *OpenAIAdapter) ParseResponse(body []byte) (*domain.ChatResponse, error) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", domain.ErrDecoding, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", domain.ErrDecoding)
	}

	choice := resp.Choices[0]
	out := &domain.ChatResponse{
		Content:          choice.Message.Content,
		ReasoningContent: choice.Message.ReasoningContent,
		FinishReason:     choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.ID == "" || tc.Function.Name == "" || tc.Function.Arguments == "" {
			a.logger.Warn("dropping incomplete tool call",
				"id", tc.ID,
				"name", tc.Function.Name,
			)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// FetchModels implements Adapter.
func (a *OpenAIAdapter) FetchModels(ctx context.Context) ([]string, error) {
	endpoint, err := a.modelsEndpoint()
	if err != nil {
		return nil, err
	}

	body, err := doGET(ctx, a.client, endpoint, map[string]string{
		"Authorization": "Bearer " + a.provider.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var list openaiModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: model list: %v", domain.ErrDecoding, err)
	}
	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

var _ Adapter = (*OpenAIAdapter)(nil)
