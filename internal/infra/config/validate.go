package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateGateway(cfg, ve)
	validateRouter(cfg, ve)
	validateWorkers(cfg, ve)
	validateLLM(cfg, ve)
	validateAgents(cfg, ve)
	validateHistory(cfg, ve)
	validateCluster(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst <= 0 {
		ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static)", cfg.Gateway.Auth.Type)
	}
}

var validClassifiers = map[string]bool{
	"keyword":  true,
	"llm":      true,
	"fallback": true,
}

func validateRouter(cfg *Config, ve *ValidationError) {
	r := cfg.Router
	if !validClassifiers[r.Classifier] {
		ve.Add("router.classifier %q is invalid (want: keyword, llm, fallback)", r.Classifier)
	}
	if r.ClassifierTimeout <= 0 {
		ve.Add("router.classifier_timeout must be > 0")
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		ve.Add("router.min_confidence must be within [0, 1]")
	}
	if (r.Classifier == "llm" || r.Classifier == "fallback") && cfg.LLM.DefaultProvider == "" {
		ve.Add("router.classifier %q requires llm.default_provider", r.Classifier)
	}
	for i, peer := range r.Discovery.Peers {
		if !isHTTPURL(peer) {
			ve.Add("router.discovery.peers[%d] %q must be an http(s) URL", i, peer)
		}
	}
	if r.Discovery.Refresh != "" {
		if !validSchedule(r.Discovery.Refresh) {
			ve.Add("router.discovery.refresh %q is not a valid cron expression or duration", r.Discovery.Refresh)
		}
		if len(r.Discovery.Peers) == 0 && !r.Discovery.MDNS {
			ve.Add("router.discovery.refresh is set but neither peers nor mdns are configured")
		}
	}
}

func validateWorkers(cfg *Config, ve *ValidationError) {
	d := cfg.Router.Discovery
	if len(cfg.Workers) == 0 && len(d.Peers) == 0 && !d.MDNS {
		ve.Add("at least one worker, discovery peer or mdns discovery must be configured")
	}
	seen := make(map[string]bool)
	for i, w := range cfg.Workers {
		if strings.TrimSpace(w.ID) == "" {
			ve.Add("workers[%d].id must not be empty", i)
			continue
		}
		if seen[w.ID] {
			ve.Add("workers[%d]: duplicate worker id %q", i, w.ID)
		}
		seen[w.ID] = true
		if !isHTTPURL(w.Endpoint) {
			ve.Add("workers[%d] (%s): endpoint %q must be an http(s) URL", i, w.ID, w.Endpoint)
		}
		if len(w.Intents) == 0 {
			ve.Add("workers[%d] (%s): intents must not be empty", i, w.ID)
		}
		if w.Timeout < 0 {
			ve.Add("workers[%d] (%s): timeout must be >= 0", i, w.ID)
		}
	}
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"gemini":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, gemini, bedrock)", i, p.Type)
		}
		// bedrock authenticates through the AWS credential chain
		if p.APIKey == "" && p.Type != "bedrock" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via SWITCHBOARD_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if g := cfg.Agents.Greeter.Provider; g != "" && !seen[g] {
		ve.Add("agents.greeter.provider %q does not match any configured provider", g)
	}
	if c := cfg.Agents.Clock.Provider; c != "" && !seen[c] {
		ve.Add("agents.clock.provider %q does not match any configured provider", c)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true}
)

func validateAgents(cfg *Config, ve *ValidationError) {
	if z := cfg.Agents.Clock.DefaultZone; z != "" {
		if _, err := time.LoadLocation(z); err != nil {
			ve.Add("agents.clock.default_zone %q is not a known time zone", z)
		}
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if cfg.History.Retain < 0 {
		ve.Add("history.retain must be >= 0")
	}
}

func validateCluster(cfg *Config, ve *ValidationError) {
	c := cfg.Cluster
	if !c.Enabled {
		return
	}
	u, err := url.Parse(c.RedisURL)
	if c.RedisURL == "" || err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") || u.Host == "" {
		ve.Add("cluster.redis_url %q must be a redis:// or rediss:// URL", c.RedisURL)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

// validSchedule accepts what the scheduler accepts: a standard cron
// expression or a positive duration.
func validSchedule(s string) bool {
	if _, err := cron.ParseStandard(s); err == nil {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
