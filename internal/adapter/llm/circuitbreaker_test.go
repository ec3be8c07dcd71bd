package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.chatFunc == nil {
		return &domain.ChatResponse{}, nil
	}
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

type mockStreamProvider struct {
	mockProvider
	streamFunc func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "gemini",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "gemini", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			callCount++
			return nil, errors.New("provider error")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second}, nil)

	for range 3 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider error")
	}
	assert.Equal(t, 3, callCount)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Equal(t, 3, callCount, "provider should not be called when circuit is open")
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "slow",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, context.Canceled
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, nil)

	for range 3 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	shouldFail := true
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			if shouldFail {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Message: domain.Message{Content: "recovered"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond}, nil)
	for range 2 {
		_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	shouldFail = false
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerCounts(t *testing.T) {
	callNum := 0
	inner := &mockProvider{
		name: "counted",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			callNum++
			if callNum <= 2 {
				return &domain.ChatResponse{}, nil
			}
			return nil, errors.New("fail")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, nil)
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestCircuitBreakerStream(t *testing.T) {
	inner := &mockStreamProvider{
		mockProvider: mockProvider{name: "stream"},
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			ch := make(chan domain.StreamDelta, 1)
			ch <- domain.StreamDelta{Content: "streamed", Done: true}
			close(ch)
			return ch, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, nil)
	ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "streamed", (<-ch).Content)
}

func TestCircuitBreakerStreamNonStreamingProvider(t *testing.T) {
	cb := NewCircuitBreakerProvider(&mockProvider{name: "no-stream"}, config.CircuitBreakerConfig{}, nil)

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support streaming")
}

func TestCircuitBreakerStreamTripsOnFailure(t *testing.T) {
	inner := &mockStreamProvider{
		mockProvider: mockProvider{name: "stream-flaky"},
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, errors.New("stream init failed")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 5 * time.Second}, nil)
	for range 2 {
		_, _ = cb.ChatStream(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}
