package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"chatcore/internal/domain"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModelsURL   = "https://api.anthropic.com/v1/models"
	anthropicAPIVersion  = "2023-06-01"
	anthropicMaxTokens   = 4096
)

// anthropicFallbackModels is returned when the models endpoint answers with
// an unexpected shape. Transport failures still surface as errors.
var anthropicFallbackModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

// AnthropicAdapter speaks the Anthropic messages wire protocol. System
// messages are lifted out of the message list into the request's system
// field. Tool calling and reasoning are not modeled for this family.
type AnthropicAdapter struct {
	provider domain.Provider
	client   *http.Client
	logger   *slog.Logger
}

// NewAnthropicAdapter creates an adapter for an Anthropic provider.
func NewAnthropicAdapter(p domain.Provider, client *http.Client, logger *slog.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{provider: p, client: client, logger: logger}
}

// --- wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ConvertRequest implements Adapter.
func (a *AnthropicAdapter) ConvertRequest(req domain.ChatRequest) (*http.Request, error) {
	var system string
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = m.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   anthropicMaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
		System:      system,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError("llm.request", domain.ErrInvalidURL, anthropicMessagesURL)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.provider.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

// ParseStreamChunk implements Adapter. Events are typed: content_block_delta
// contributes text, message_stop ends the stream, everything else is ignored.
func (a *AnthropicAdapter) ParseStreamChunk(line []byte) (*domain.StreamChunk, error) {
	if !bytes.HasPrefix(line, []byte("data: ")) {
		return nil, nil
	}
	data := bytes.TrimPrefix(line, []byte("data: "))

	var event anthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: stream event: %v", domain.ErrDecoding, err)
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Text == "" {
			return nil, nil
		}
		return &domain.StreamChunk{Content: event.Delta.Text}, nil
	case "message_stop":
		return &domain.StreamChunk{Finished: true}, nil
	default:
		return nil, nil
	}
}

// ParseResponse implements Adapter.
func (a *AnthropicAdapter) ParseResponse(body []byte) (*domain.ChatResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", domain.ErrDecoding, err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: response has no content blocks", domain.ErrDecoding)
	}
	return &domain.ChatResponse{
		Content:      resp.Content[0].Text,
		FinishReason: resp.StopReason,
	}, nil
}

// FetchModels implements Adapter. When the models endpoint answers with an
// unusable shape the adapter falls back to a hardcoded list rather than
// failing; transport errors still propagate.
func (a *AnthropicAdapter) FetchModels(ctx context.Context) ([]string, error) {
	body, err := doGET(ctx, a.client, anthropicModelsURL, map[string]string{
		"x-api-key":         a.provider.APIKey,
		"anthropic-version": anthropicAPIVersion,
	})
	if err != nil {
		return nil, err
	}

	var list anthropicModelList
	if err := json.Unmarshal(body, &list); err != nil || len(list.Data) == 0 {
		a.logger.Warn("model list unavailable, using fallback", "provider", a.provider.Nickname)
		return anthropicFallbackModels, nil
	}
	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

var _ Adapter = (*AnthropicAdapter)(nil)
