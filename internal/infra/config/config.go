package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Router   RouterConfig   `yaml:"router"`
	Workers  []WorkerConfig `yaml:"workers"`
	Agents   AgentsConfig   `yaml:"agents"`
	LLM      LLMConfig      `yaml:"llm"`
	History  HistoryConfig  `yaml:"history"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Includes []string       `yaml:"includes,omitempty"`
}

// ServerConfig holds the dispatcher HTTP API settings.
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client request limits. RequestsPerSecond <= 0
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled bool       `yaml:"enabled"`
	Addr    string     `yaml:"addr"`
	Auth    AuthConfig `yaml:"auth"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// RouterConfig selects and tunes the intent classifier.
type RouterConfig struct {
	Classifier            string              `yaml:"classifier"` // keyword, llm, fallback
	ClassifierTimeout     time.Duration       `yaml:"classifier_timeout"`
	MinConfidence         float64             `yaml:"min_confidence"`
	FallbackOnUnavailable bool                `yaml:"fallback_on_unavailable"`
	Model                 string              `yaml:"model,omitempty"`
	Lexicon               map[string][]string `yaml:"lexicon,omitempty"`
	Discovery             DiscoveryConfig     `yaml:"discovery"`
}

// DiscoveryConfig lists peers whose agent cards are fetched at startup and
// re-fetched on Refresh (a cron expression; empty disables refresh). With
// MDNS set, workers advertising on the local network are added as peers.
type DiscoveryConfig struct {
	Peers   []string      `yaml:"peers,omitempty"`
	MDNS    bool          `yaml:"mdns,omitempty"`
	Refresh string        `yaml:"refresh,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig declares one statically configured worker.
type WorkerConfig struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Endpoint    string        `yaml:"endpoint"`
	Intents     []string      `yaml:"intents"`
	Examples    []string      `yaml:"examples,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Stream      bool          `yaml:"stream,omitempty"`
}

// AgentsConfig configures the built-in demo workers. Advertise announces a
// running worker over mDNS.
type AgentsConfig struct {
	Advertise bool               `yaml:"advertise,omitempty"`
	Greeter   GreeterAgentConfig `yaml:"greeter"`
	Clock     ClockAgentConfig   `yaml:"clock"`
}

// GreeterAgentConfig configures the greeting worker. An empty Provider
// selects the static greeting.
type GreeterAgentConfig struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url,omitempty"`
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
}

// ClockAgentConfig configures the time worker. With a Provider set, the
// location is extracted by the model instead of by pattern.
type ClockAgentConfig struct {
	Addr        string `yaml:"addr"`
	PublicURL   string `yaml:"public_url,omitempty"`
	DefaultZone string `yaml:"default_zone"`
	Provider    string `yaml:"provider,omitempty"`
	Model       string `yaml:"model,omitempty"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings shared by LLM
// providers and worker clients.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Region      string        `yaml:"region,omitempty"` // bedrock only
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// HistoryConfig enables the dispatch history. An empty Path disables it;
// Retain bounds the number of records kept.
type HistoryConfig struct {
	Path   string `yaml:"path,omitempty"`
	Retain int    `yaml:"retain,omitempty"`
}

// ClusterConfig mirrors dispatch events between nodes through Redis pub/sub.
type ClusterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	NodeID   string `yaml:"node_id,omitempty"` // hostname-derived if empty
	RedisURL string `yaml:"redis_url"`         // e.g. "redis://localhost:6379/0"
	Channel  string `yaml:"channel,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults: the dispatcher on :8080
// routing by keyword to the two demo workers on their default ports.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    ":8090",
		},
		Router: RouterConfig{
			Classifier:        "keyword",
			ClassifierTimeout: 15 * time.Second,
			Discovery: DiscoveryConfig{
				Timeout: 5 * time.Second,
			},
		},
		Workers: []WorkerConfig{
			{
				ID:          "greeter",
				Name:        "Greeter",
				Description: "Answers greetings with a friendly reply and a short quote.",
				Endpoint:    "http://localhost:10001",
				Intents:     []string{"greeting"},
				Examples:    []string{"hello", "hi there", "good morning"},
				Timeout:     30 * time.Second,
				Stream:      true,
			},
			{
				ID:          "clock",
				Name:        "Clock",
				Description: "Tells the current time in a city or time zone.",
				Endpoint:    "http://localhost:10002",
				Intents:     []string{"time"},
				Examples:    []string{"what time is it in Tokyo", "current time in London"},
				Timeout:     10 * time.Second,
				Stream:      true,
			},
		},
		Agents: AgentsConfig{
			Greeter: GreeterAgentConfig{Addr: ":10001"},
			Clock:   ClockAgentConfig{Addr: ":10002", DefaultZone: "UTC"},
		},
		LLM: LLMConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadWorkerIncludes(cfg, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("SWITCHBOARD_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SWITCHBOARD_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SWITCHBOARD_SERVER_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("SWITCHBOARD_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true"
	}
	if v := os.Getenv("SWITCHBOARD_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("SWITCHBOARD_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("SWITCHBOARD_ROUTER_CLASSIFIER"); v != "" {
		cfg.Router.Classifier = v
	}
	if v := os.Getenv("SWITCHBOARD_ROUTER_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.ClassifierTimeout = d
		}
	}
	if v := os.Getenv("SWITCHBOARD_ROUTER_PEERS"); v != "" {
		cfg.Router.Discovery.Peers = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SWITCHBOARD_ROUTER_REFRESH"); v != "" {
		cfg.Router.Discovery.Refresh = v
	}
	if v := os.Getenv("SWITCHBOARD_ROUTER_MDNS"); v != "" {
		cfg.Router.Discovery.MDNS = v == "true"
	}
	if v := os.Getenv("SWITCHBOARD_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("SWITCHBOARD_CLUSTER_REDIS_URL"); v != "" {
		cfg.Cluster.RedisURL = v
		cfg.Cluster.Enabled = true
	}
	if v := os.Getenv("SWITCHBOARD_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("SWITCHBOARD_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SWITCHBOARD_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SWITCHBOARD_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SWITCHBOARD_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-worker endpoint overrides: SWITCHBOARD_WORKER_<ID>_ENDPOINT
	for i := range cfg.Workers {
		if v := os.Getenv(envName("WORKER", cfg.Workers[i].ID, "ENDPOINT")); v != "" {
			cfg.Workers[i].Endpoint = v
		}
	}

	// Per-provider API key overrides: SWITCHBOARD_LLM_PROVIDER_<NAME>_API_KEY,
	// then the vendor's own variable for an empty key.
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if v := os.Getenv(envName("LLM_PROVIDER", p.Name, "API_KEY")); v != "" {
			p.APIKey = v
			continue
		}
		if p.APIKey != "" {
			continue
		}
		for _, name := range vendorKeyVars[p.Type] {
			if v := os.Getenv(name); v != "" {
				p.APIKey = v
				break
			}
		}
	}
}

var vendorKeyVars = map[string][]string{
	"gemini": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai": {"OPENAI_API_KEY"},
}

func envName(prefix, id, suffix string) string {
	id = strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return '_'
		}
		return r
	}, strings.ToUpper(id))
	return "SWITCHBOARD_" + prefix + "_" + id + "_" + suffix
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in provider API keys and gateway
// tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		if err := decryptField(&cfg.LLM.Providers[i].APIKey, passphrase); err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
		}
	}
	for i := range cfg.Gateway.Auth.Tokens {
		if err := decryptField(&cfg.Gateway.Auth.Tokens[i].Token, passphrase); err != nil {
			return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
		}
	}
	return nil
}

func decryptField(fp *string, passphrase string) error {
	if !strings.HasPrefix(*fp, "enc:") {
		return nil
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
	if err != nil {
		return err
	}
	*fp = decrypted
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
