package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusInternalServerError, domain.ErrProviderError},
		{http.StatusBadGateway, domain.ErrProviderError},
		{http.StatusServiceUnavailable, domain.ErrProviderError},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte(`{"error":"x"}`))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestMapHTTPErrorUnknownStatus(t *testing.T) {
	err := mapHTTPError(418, []byte(`I'm a teapot`))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrRateLimit) || errors.Is(err, domain.ErrAuthInvalid) || errors.Is(err, domain.ErrProviderError) {
		t.Errorf("expected no sentinel wrapping for unknown status, got %v", err)
	}
	if got := err.Error(); got != "API error 418: I'm a teapot" {
		t.Errorf("error = %q", got)
	}
}

func TestNewHTTPClientTimeouts(t *testing.T) {
	c := NewHTTPClient(config.ProviderConfig{})
	if c.Timeout != defaultConnTimeout+defaultRespTimeout {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	c = NewHTTPClient(config.ProviderConfig{ConnTimeout: time.Second, RespTimeout: 2 * time.Second})
	if c.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", c.Timeout)
	}
}
