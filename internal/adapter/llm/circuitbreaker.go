package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/resilience"
)

// CircuitBreakerProvider wraps an LLMProvider with circuit breaker protection.
// When the wrapped provider fails repeatedly, the circuit opens and calls fail
// fast, which the LLM classifier reports as ClassifierUnavailable.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerProvider wraps inner with a circuit breaker. Zero config
// fields use defaults. A caller cancelling its own request does not count as
// a provider failure.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cb := resilience.NewBreaker[*domain.ChatResponse]("llm:"+inner.Name(), cfg, func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}, logger)

	return &CircuitBreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.LLMProvider. Calls are routed through the circuit breaker.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider if the inner provider
// supports it. The breaker guards stream initiation only.
func (p *CircuitBreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", p.inner.Name())
	}

	var ch <-chan domain.StreamDelta
	_, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = sp.ChatStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return ch, nil
}

func (p *CircuitBreakerProvider) wrap(err error) error {
	if resilience.IsOpen(err) {
		return fmt.Errorf("provider %q circuit open: %w: %w", p.inner.Name(), domain.ErrProviderError, err)
	}
	return err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (p *CircuitBreakerProvider) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}

var (
	_ domain.LLMProvider          = (*CircuitBreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*CircuitBreakerProvider)(nil)
)
