package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"switchboard/internal/adapter/worker"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// cardFetcher fetches a worker's agent card.
type cardFetcher interface {
	Discover(ctx context.Context, baseURL string) (domain.WorkerDescriptor, error)
}

const probeTimeout = 3 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	hc := probeClient(probeTimeout)
	fetcher := worker.NewDiscoverer(hc, probeTimeout)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Classifier", Fn: checkClassifier},
		{Name: "LLM API keys", Fn: checkLLMAPIKey},
		{Name: "Workers", Fn: checkWorkers(fetcher)},
		{Name: "Discovery peers", Fn: checkPeers(fetcher)},
		{Name: "Dispatch history", Fn: checkHistory},
		{Name: "Cluster", Fn: checkCluster(pingRedis)},
		{Name: "Dispatcher API", Fn: checkDispatcher(hc)},
	}

	_, err := reportChecks(os.Stdout, checks, cfg)
	return err
}

// reportChecks runs checks in order, prints one line per check and a
// summary, and returns the results and an error when any check failed.
func reportChecks(w io.Writer, checks []Check, cfg *config.Config) ([]CheckResult, error) {
	fmt.Fprintln(w, "switchboard doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before running the dispatcher.")
		return results, fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nswitchboard should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! switchboard is ready to route.")
	}
	return results, nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config loaded. A missing file is only a
// warning because the defaults describe a working local setup.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			if errors.As(cfgErr, &ve) {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("%d validation error(s): %s", len(ve.Errors), strings.Join(ve.Errors, "; ")),
					Fix:     "Correct the listed fields in " + cfgPath,
				}
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and file permissions",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s; using built-in defaults", cfgPath),
				Fix:     "Create " + cfgPath + " to register your own workers",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkClassifier(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check — config not loaded"}
	}
	switch cfg.Router.Classifier {
	case "keyword", "":
		return CheckResult{Status: StatusPass, Message: "keyword classifier (no LLM required)"}
	default:
		msg := fmt.Sprintf("%s classifier via provider %q", cfg.Router.Classifier, cfg.LLM.DefaultProvider)
		if cfg.Router.Classifier == "fallback" && !cfg.Router.FallbackOnUnavailable {
			return CheckResult{
				Status:  StatusPass,
				Message: msg + "; provider outages surface as ClassifierUnavailableError",
			}
		}
		return CheckResult{Status: StatusPass, Message: msg}
	}
}

// needsLLM reports whether any component is configured to call a provider.
func needsLLM(cfg *config.Config) bool {
	return cfg.Router.Classifier == "llm" || cfg.Router.Classifier == "fallback" ||
		cfg.Agents.Greeter.Provider != "" || cfg.Agents.Clock.Provider != ""
}

// checkLLMAPIKey verifies that configured providers have API keys.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check — config not loaded"}
	}
	if len(cfg.LLM.Providers) == 0 {
		if needsLLM(cfg) {
			return CheckResult{
				Status:  StatusFail,
				Message: "an LLM is required but no providers are configured",
				Fix:     "Add a provider under llm.providers",
			}
		}
		return CheckResult{Status: StatusPass, Message: "no LLM providers configured (none required)"}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		// bedrock uses the AWS credential chain
		if p.APIKey != "" || p.Type == "bedrock" {
			withKey = append(withKey, p.Name)
		} else {
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set API keys via environment variables (e.g., SWITCHBOARD_LLM_PROVIDER_OPENAI_API_KEY)",
		}
	}
	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// probeCards fetches every URL's agent card and splits the URLs by outcome.
func probeCards(f cardFetcher, urls []string) (ok, down []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*probeTimeout)
	defer cancel()
	for _, u := range urls {
		if _, err := f.Discover(ctx, u); err != nil {
			down = append(down, u)
			continue
		}
		ok = append(ok, u)
	}
	return ok, down
}

// checkWorkers fetches the agent card of every configured worker.
func checkWorkers(f cardFetcher) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusFail, Message: "cannot check — config not loaded"}
		}
		if len(cfg.Workers) == 0 {
			return CheckResult{Status: StatusWarn, Message: "no static workers; relying on discovery peers"}
		}

		endpoints := make([]string, 0, len(cfg.Workers))
		byEndpoint := make(map[string]string, len(cfg.Workers))
		for _, w := range cfg.Workers {
			endpoints = append(endpoints, w.Endpoint)
			byEndpoint[w.Endpoint] = w.ID
		}
		ok, down := probeCards(f, endpoints)

		ids := func(urls []string) string {
			out := make([]string, len(urls))
			for i, u := range urls {
				out[i] = byEndpoint[u]
			}
			return strings.Join(out, ", ")
		}
		switch {
		case len(down) == 0:
			return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d worker(s) reachable: %s", len(ok), ids(ok))}
		case len(ok) == 0:
			return CheckResult{
				Status:  StatusFail,
				Message: "no worker is reachable: " + ids(down),
				Fix:     "Start them, e.g. 'switchboard worker greeter' and 'switchboard worker clock'",
			}
		default:
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("unreachable: %s; reachable: %s", ids(down), ids(ok)),
				Fix:     "Queries routed to unreachable workers fail with WorkerTransportError",
			}
		}
	}
}

// checkPeers fetches the agent card of every discovery peer.
func checkPeers(f cardFetcher) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusFail, Message: "cannot check — config not loaded"}
		}
		peers := cfg.Router.Discovery.Peers
		if len(peers) == 0 {
			return CheckResult{Status: StatusPass, Message: "no discovery peers configured"}
		}
		ok, down := probeCards(f, peers)
		if len(down) > 0 {
			fix := "Unreachable peers are retried at startup"
			if cfg.Router.Discovery.Refresh != "" {
				fix = "Unreachable peers are retried on schedule " + cfg.Router.Discovery.Refresh
			}
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%d of %d peer(s) unreachable: %s", len(down), len(peers), strings.Join(down, ", ")),
				Fix:     fix,
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d peer(s) reachable", len(ok))}
	}
}

// checkHistory verifies that the history database's directory exists. The
// database file itself is created on first run.
func checkHistory(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.History.Path == "" {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if cfg.History.Path == ":memory:" {
		return CheckResult{Status: StatusPass, Message: "in memory (lost on restart)"}
	}
	dir := filepath.Dir(cfg.History.Path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("directory %s does not exist", dir),
			Fix:     fmt.Sprintf("Create it with: mkdir -p %s", dir),
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.History.Path}
}

// checkCluster pings the cluster's Redis when clustering is enabled.
func checkCluster(ping func(ctx context.Context, url string) error) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil || !cfg.Cluster.Enabled {
			return CheckResult{Status: StatusPass, Message: "standalone"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := ping(ctx, cfg.Cluster.RedisURL); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("redis unreachable: %v", err),
				Fix:     "Check cluster.redis_url or SWITCHBOARD_CLUSTER_REDIS_URL",
			}
		}
		return CheckResult{Status: StatusPass, Message: "redis reachable"}
	}
}

// checkDispatcher reports whether a dispatcher already answers on the
// configured address. Not running is only a warning.
func checkDispatcher(hc *http.Client) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		base := dispatcherURL(nil, cfg)
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad dispatcher URL %s: %v", base, err)}
		}
		start := time.Now()
		resp, err := hc.Do(req)
		if err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no dispatcher answering at %s", base),
				Fix:     "Start it with 'switchboard run'",
			}
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s/healthz returned HTTP %d", base, resp.StatusCode)}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("dispatcher up at %s (latency: %dms)", base, time.Since(start).Milliseconds()),
		}
	}
}
