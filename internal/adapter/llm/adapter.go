package llm

import (
	"context"
	"log/slog"
	"net/http"

	"chatcore/internal/domain"
)

// Adapter translates between the unified chat model and one provider
// family's wire protocol.
type Adapter interface {
	// ConvertRequest builds the provider-specific HTTP request. It fails
	// with domain.ErrInvalidURL when no endpoint can be constructed and
	// domain.ErrEncoding when the body cannot be serialized.
	ConvertRequest(req domain.ChatRequest) (*http.Request, error)

	// ParseStreamChunk converts one raw response line into a StreamChunk.
	// It returns (nil, nil) for non-data lines such as keep-alives and
	// comments, and domain.ErrDecoding only for a recognized-but-corrupt
	// payload.
	ParseStreamChunk(line []byte) (*domain.StreamChunk, error)

	// ParseResponse converts a full non-streaming response body. It fails
	// with domain.ErrDecoding when the expected shape is absent.
	ParseResponse(body []byte) (*domain.ChatResponse, error)

	// FetchModels lists the provider's model identifiers. It fails with
	// domain.ErrNetwork on transport failure; adapters for providers
	// without a usable public models endpoint fall back to a hardcoded
	// list, documented on the implementation.
	FetchModels(ctx context.Context) ([]string, error)
}

// ForProvider selects the adapter implementation for a provider. Selection
// is a pure function of the provider type and never depends on runtime
// state. The OpenAI-style adapter serves the openai, openrouter, and
// custom families.
func ForProvider(p domain.Provider, client *http.Client, logger *slog.Logger) Adapter {
	switch p.Type {
	case domain.ProviderAnthropic:
		return NewAnthropicAdapter(p, client, logger)
	case domain.ProviderGemini:
		return NewGeminiAdapter(p, client, logger)
	default:
		return NewOpenAIAdapter(p, client, logger)
	}
}
