package llm

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewProvider creates a provider from its config. An empty type is
// treated as "openai".
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(cfg, logger), nil
	case "bedrock":
		p, err := NewBedrockProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrInvalidInput, "unknown provider type "+cfg.Type)
	}
}

// Build creates every configured provider, wrapping each in a circuit
// breaker when cfg.CircuitBreaker is enabled.
func Build(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, logger)
		if err != nil {
			return nil, err
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
		logger.Debug("llm provider registered", "name", pc.Name, "type", pc.Type, "model", pc.Model)
	}
	return reg, nil
}
