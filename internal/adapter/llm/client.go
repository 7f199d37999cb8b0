package llm

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/tracer"
)

// Client runs unified chat exchanges against one provider. It owns the
// adapter resolved for the provider's type and the shared pooled HTTP
// client, and is safe for concurrent use.
type Client struct {
	provider domain.Provider
	adapter  Adapter
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates an exchange client for the given provider.
func NewClient(p domain.Provider, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		provider: p,
		adapter:  ForProvider(p, httpClient, logger),
		client:   httpClient,
		logger:   logger,
	}
}

// Provider returns the provider configuration this client exchanges with.
func (c *Client) Provider() domain.Provider { return c.provider }

// Send performs a single blocking exchange.
func (c *Client) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.send",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.provider.Nickname),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	req.Stream = false
	httpReq, err := c.adapter.ConvertRequest(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := doSend(ctx, c.client, httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	resp, err := c.adapter.ParseResponse(body)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	c.logger.Debug("chat exchange completed",
		"provider", c.provider.Nickname,
		"model", req.Model,
		"tool_calls", len(resp.ToolCalls),
	)
	return resp, nil
}

// Stream opens a streaming exchange and returns a channel of parsed chunks.
// The channel closes when the stream finishes or ctx is cancelled; partial
// consumption is safe.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.provider.Nickname),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	req.Stream = true
	httpReq, err := c.adapter.ConvertRequest(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	httpResp, err := doStream(ctx, c.client, httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	return ParseLines(ctx, httpResp.Body, c.adapter.ParseStreamChunk, c.logger), nil
}

// Models lists the provider's available model identifiers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.models",
		trace.WithAttributes(tracer.StringAttr("llm.provider", c.provider.Nickname)),
	)
	defer span.End()

	models, err := c.adapter.FetchModels(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return models, nil
}
