package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

type fakeFetcher struct {
	up map[string]bool
}

func (f fakeFetcher) Discover(_ context.Context, baseURL string) (domain.WorkerDescriptor, error) {
	if f.up[baseURL] {
		return domain.NewWorkerDescriptor("w", "W", "", []string{"x"}), nil
	}
	return domain.WorkerDescriptor{}, domain.ErrWorkerTransport
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCheckConfigFile_Missing(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/config.yaml", nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_ValidationError(t *testing.T) {
	err := &config.ValidationError{Errors: []string{"server.addr must not be empty", "logger.level bad"}}
	result := checkConfigFile("config.yaml", err)(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "2 validation error(s)") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestCheckConfigFile_OtherError(t *testing.T) {
	result := checkConfigFile("config.yaml", errors.New("parse config: yaml: bad"))(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, cfgPath, "server:\n  addr: \":9000\"\n")

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckLLMAPIKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want CheckStatus
	}{
		{"nil config", nil, StatusFail},
		{"keyword without providers", &config.Config{Router: config.RouterConfig{Classifier: "keyword"}}, StatusPass},
		{"llm without providers", &config.Config{Router: config.RouterConfig{Classifier: "llm"}}, StatusFail},
		{"greeter needs provider", &config.Config{Agents: config.AgentsConfig{Greeter: config.GreeterAgentConfig{Provider: "openai"}}}, StatusFail},
		{"all keys", &config.Config{LLM: config.LLMConfig{Providers: []config.ProviderConfig{{Name: "openai", APIKey: "sk"}}}}, StatusPass},
		{"some keys", &config.Config{LLM: config.LLMConfig{Providers: []config.ProviderConfig{
			{Name: "openai", APIKey: "sk"}, {Name: "gemini"},
		}}}, StatusWarn},
		{"no keys", &config.Config{LLM: config.LLMConfig{Providers: []config.ProviderConfig{{Name: "openai"}}}}, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkLLMAPIKey(tt.cfg).Status; got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckWorkers(t *testing.T) {
	cfg := config.Defaults()
	greeter, clock := cfg.Workers[0].Endpoint, cfg.Workers[1].Endpoint

	tests := []struct {
		name string
		up   map[string]bool
		want CheckStatus
	}{
		{"all up", map[string]bool{greeter: true, clock: true}, StatusPass},
		{"one down", map[string]bool{greeter: true}, StatusWarn},
		{"all down", nil, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checkWorkers(fakeFetcher{up: tt.up})(cfg)
			if result.Status != tt.want {
				t.Errorf("got %s (%s), want %s", result.Status, result.Message, tt.want)
			}
		})
	}
}

func TestCheckWorkers_NamesUnreachable(t *testing.T) {
	cfg := config.Defaults()
	result := checkWorkers(fakeFetcher{up: map[string]bool{cfg.Workers[0].Endpoint: true}})(cfg)
	if !strings.Contains(result.Message, "unreachable: clock") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestCheckPeers(t *testing.T) {
	cfg := config.Defaults()
	if got := checkPeers(fakeFetcher{})(cfg).Status; got != StatusPass {
		t.Errorf("no peers: got %s", got)
	}

	cfg.Router.Discovery.Peers = []string{"http://a:1", "http://b:2"}
	cfg.Router.Discovery.Refresh = "5m"
	result := checkPeers(fakeFetcher{up: map[string]bool{"http://a:1": true}})(cfg)
	if result.Status != StatusWarn {
		t.Errorf("got %s, want WARN", result.Status)
	}
	if !strings.Contains(result.Fix, "5m") {
		t.Errorf("fix should mention the refresh schedule: %q", result.Fix)
	}
}

func TestCheckDispatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	t.Setenv("SWITCHBOARD_URL", srv.URL)
	if got := checkDispatcher(srv.Client())(config.Defaults()); got.Status != StatusPass {
		t.Errorf("got %s: %s", got.Status, got.Message)
	}

	t.Setenv("SWITCHBOARD_URL", "http://127.0.0.1:1")
	if got := checkDispatcher(srv.Client())(config.Defaults()); got.Status != StatusWarn {
		t.Errorf("got %s, want WARN when nothing listens", got.Status)
	}
}

func TestReportChecks(t *testing.T) {
	checks := []Check{
		{Name: "ok", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }},
		{Name: "meh", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusWarn, Message: "hmm", Fix: "do x"} }},
	}
	var buf bytes.Buffer
	results, err := reportChecks(&buf, checks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[1].Name != "meh" {
		t.Errorf("results = %+v", results)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] ok: fine", "[WARN] meh: hmm", "Fix: do x", "1 passed, 1 warnings, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	checks = append(checks, Check{Name: "bad", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail} }})
	if _, err := reportChecks(&bytes.Buffer{}, checks, nil); err == nil {
		t.Error("expected error when a check fails")
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "[PASS]"},
		{StatusWarn, "[WARN]"},
		{StatusFail, "[FAIL]"},
		{"other", "[????]"},
	}
	for _, tt := range tests {
		if got := statusIcon(tt.status); got != tt.want {
			t.Errorf("statusIcon(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCheckHistory(t *testing.T) {
	cfg := config.Defaults()
	if got := checkHistory(cfg); got.Status != StatusPass || got.Message != "disabled" {
		t.Errorf("disabled: got %+v", got)
	}

	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	if got := checkHistory(cfg).Status; got != StatusPass {
		t.Errorf("existing dir: got %s", got)
	}

	cfg.History.Path = filepath.Join(t.TempDir(), "missing", "history.db")
	result := checkHistory(cfg)
	if result.Status != StatusFail {
		t.Errorf("missing dir: got %s, want FAIL", result.Status)
	}
	if !strings.Contains(result.Fix, "mkdir -p") {
		t.Errorf("fix = %q", result.Fix)
	}
}

func TestCheckCluster(t *testing.T) {
	var pinged string
	ok := func(_ context.Context, url string) error { pinged = url; return nil }
	down := func(context.Context, string) error { return errors.New("connection refused") }

	cfg := config.Defaults()
	if got := checkCluster(ok)(cfg); got.Status != StatusPass || got.Message != "standalone" {
		t.Errorf("standalone: got %+v", got)
	}
	if pinged != "" {
		t.Error("standalone must not ping")
	}

	cfg.Cluster = config.ClusterConfig{Enabled: true, RedisURL: "redis://cache:6379"}
	if got := checkCluster(ok)(cfg).Status; got != StatusPass {
		t.Errorf("reachable: got %s", got)
	}
	if pinged != "redis://cache:6379" {
		t.Errorf("pinged %q", pinged)
	}

	result := checkCluster(down)(cfg)
	if result.Status != StatusFail || !strings.Contains(result.Message, "connection refused") {
		t.Errorf("unreachable: got %+v", result)
	}
}
