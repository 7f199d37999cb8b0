package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerClient wraps a Client with circuit breaker protection. When a
// provider fails repeatedly the circuit opens and subsequent exchanges fail
// fast without reaching the network, preventing retry storms against an
// unhealthy endpoint.
type BreakerClient struct {
	inner   *Client
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewBreakerClient wraps inner with a circuit breaker. Zero-valued settings
// fall back to defaults.
func NewBreakerClient(inner *Client, cfg config.BreakerConfig, logger *slog.Logger) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := inner.Provider().Nickname
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerClient{inner: inner, breaker: cb, logger: logger}
}

// Provider returns the wrapped client's provider configuration.
func (b *BreakerClient) Provider() domain.Provider { return b.inner.Provider() }

// Send routes a blocking exchange through the circuit breaker.
func (b *BreakerClient) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.ChatResponse, error) {
		return b.inner.Send(ctx, req)
	})
	if err != nil {
		return nil, b.wrapBreakerErr(err)
	}
	return resp, nil
}

// Stream routes stream initiation through the circuit breaker. Errors after
// the connection is established flow through the channel and do not trip
// the breaker.
func (b *BreakerClient) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	var ch <-chan domain.StreamChunk
	_, err := b.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = b.inner.Stream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, b.wrapBreakerErr(err)
	}
	return ch, nil
}

// Models lists models without breaker protection; listing is a low-volume
// management operation.
func (b *BreakerClient) Models(ctx context.Context) ([]string, error) {
	return b.inner.Models(ctx)
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerClient) State() gobreaker.State { return b.breaker.State() }

func (b *BreakerClient) wrapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("provider %q circuit open: %w", b.inner.Provider().Nickname, err)
	}
	return err
}
