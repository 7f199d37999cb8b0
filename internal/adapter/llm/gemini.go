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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiFallbackModels is returned when the models endpoint answers with an
// unexpected shape. Transport failures still surface as errors.
var geminiFallbackModels = []string{
	"gemini-2.0-flash-exp",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
}

// GeminiAdapter speaks the Gemini generateContent wire protocol. The model
// id and operation are encoded in the URL path and the API key travels as a
// query parameter. Assistant turns are remapped to the "model" role and
// system messages become the systemInstruction field. Tool calling and
// reasoning are not modeled for this family.
type GeminiAdapter struct {
	provider domain.Provider
	client   *http.Client
	logger   *slog.Logger
}

// NewGeminiAdapter creates an adapter for a Gemini provider.
func NewGeminiAdapter(p domain.Provider, client *http.Client, logger *slog.Logger) *GeminiAdapter {
	return &GeminiAdapter{provider: p, client: client, logger: logger}
}

// --- wire types ---

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// ConvertRequest implements Adapter.
func (a *GeminiAdapter) ConvertRequest(req domain.ChatRequest) (*http.Request, error) {
	op := "generateContent"
	if req.Stream {
		op = "streamGenerateContent"
	}
	endpoint := fmt.Sprintf("%s/models/%s:%s?key=%s",
		geminiBaseURL, req.Model, op, url.QueryEscape(a.provider.APIKey))

	var system *geminiContent
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		GenerationConfig:  geminiGenConfig{Temperature: req.Temperature},
		SystemInstruction: system,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError("llm.request", domain.ErrInvalidURL, endpoint)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// ParseStreamChunk implements Adapter. Gemini streams a JSON array split
// across lines, so lines that are array framing or fragments without a
// candidate yield nil rather than an error.
func (a *GeminiAdapter) ParseStreamChunk(line []byte) (*domain.StreamChunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var resp geminiResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, nil
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}

	candidate := resp.Candidates[0]
	return &domain.StreamChunk{
		Content:      candidate.Content.Parts[0].Text,
		FinishReason: candidate.FinishReason,
		Finished:     candidate.FinishReason != "",
	}, nil
}

// ParseResponse implements Adapter.
func (a *GeminiAdapter) ParseResponse(body []byte) (*domain.ChatResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", domain.ErrDecoding, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: response has no candidates", domain.ErrDecoding)
	}
	candidate := resp.Candidates[0]
	return &domain.ChatResponse{
		Content:      candidate.Content.Parts[0].Text,
		FinishReason: candidate.FinishReason,
	}, nil
}

// FetchModels implements Adapter. Only models supporting generateContent
// are reported, with the "models/" prefix stripped. When the endpoint
// answers with an unusable shape the adapter falls back to a hardcoded
// list; transport errors still propagate.
func (a *GeminiAdapter) FetchModels(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", geminiBaseURL, url.QueryEscape(a.provider.APIKey))

	body, err := doGET(ctx, a.client, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var list geminiModelList
	if err := json.Unmarshal(body, &list); err != nil || len(list.Models) == 0 {
		a.logger.Warn("model list unavailable, using fallback", "provider", a.provider.Nickname)
		return geminiFallbackModels, nil
	}

	var models []string
	for _, m := range list.Models {
		supported := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				supported = true
				break
			}
		}
		if supported && m.Name != "" {
			models = append(models, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	return models, nil
}

var _ Adapter = (*GeminiAdapter)(nil)
