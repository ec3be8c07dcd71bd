// Package resilience builds the circuit breakers and pooled HTTP transports
// shared by outbound clients (LLM providers and worker clients).
package resilience

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"switchboard/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// NewBreaker returns a circuit breaker that opens after cfg.MaxFailures
// consecutive failures and allows one probe when half-open. Zero fields use
// defaults. isSuccessful may be nil, in which case only a nil error counts.
func NewBreaker[T any](name string, cfg config.CircuitBreakerConfig, isSuccessful func(error) bool, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
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
		IsSuccessful: isSuccessful,
	})
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Default connection pool settings: few hosts, high concurrency, long-lived
// connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling and
// the given dial and response-header timeouts.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = 30 * time.Second
	}
	if respTimeout == 0 {
		respTimeout = 120 * time.Second
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}
