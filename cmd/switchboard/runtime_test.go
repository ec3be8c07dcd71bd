package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/adapter/llm"
	"switchboard/internal/agents"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/usecase/eventbus"
	"switchboard/internal/usecase/routing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// serveAgent runs agent behind an A2A server whose card advertises its own URL.
func serveAgent(t *testing.T, agent demoAgent) string {
	t.Helper()
	var h http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	h = a2a.NewServer(agent.Card(srv.URL), agent, "", discard()).Handler()
	return srv.URL
}

func TestMergeLexicon(t *testing.T) {
	base := map[string][]string{"greeting": {"hello"}, "time": {"clock"}}
	got := mergeLexicon(base, map[string][]string{"time": {"o'clock"}, "weather": {"rain"}})

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got["time"][0] != "o'clock" {
		t.Errorf("configured intent should replace base synonyms, got %v", got["time"])
	}
	if base["time"][0] != "clock" {
		t.Error("base lexicon must not be modified")
	}
	if len(mergeLexicon(nil, nil)) != 0 {
		t.Error("nil inputs give an empty lexicon")
	}
}

func TestBuildClassifier(t *testing.T) {
	empty, err := llm.Build(config.LLMConfig{}, discard())
	if err != nil {
		t.Fatal(err)
	}
	withOpenAI, err := llm.Build(config.LLMConfig{Providers: []config.ProviderConfig{
		{Name: "openai", Type: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
	}}, discard())
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	c, err := buildClassifier(cfg, empty, discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*routing.KeywordClassifier); !ok {
		t.Errorf("keyword: got %T", c)
	}

	cfg.Router.Classifier = "llm"
	if _, err := buildClassifier(cfg, empty, discard()); err == nil {
		t.Error("llm classifier without a provider should fail")
	}

	cfg.LLM.DefaultProvider = "openai"
	c, err = buildClassifier(cfg, withOpenAI, discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*routing.LLMClassifier); !ok {
		t.Errorf("llm: got %T", c)
	}

	cfg.Router.Classifier = "fallback"
	cfg.Router.FallbackOnUnavailable = true
	c, err = buildClassifier(cfg, withOpenAI, discard())
	if err != nil {
		t.Fatal(err)
	}
	fc, ok := c.(*routing.FallbackClassifier)
	if !ok {
		t.Fatalf("fallback: got %T", c)
	}
	if !fc.FallbackOnUnavailable {
		t.Error("FallbackOnUnavailable not carried over")
	}
}

func TestDescriptorFromConfig(t *testing.T) {
	wc := config.Defaults().Workers[1]
	d := descriptorFromConfig(wc)
	if d.ID != "clock" || d.Endpoint != wc.Endpoint || d.Timeout != wc.Timeout {
		t.Errorf("descriptor = %+v", d)
	}
	if !d.Accepts("time") {
		t.Error("descriptor should accept its configured intent")
	}
}

func TestInitRoutingEndToEnd(t *testing.T) {
	clock, err := agents.NewClock("UTC", discard())
	if err != nil {
		t.Fatal(err)
	}
	clockURL := serveAgent(t, clock)
	greeterURL := serveAgent(t, agents.NewGreeter(nil, "", discard()))

	cfg := config.Defaults()
	cfg.Workers = []config.WorkerConfig{{
		ID: "clock", Name: "Clock", Endpoint: clockURL, Intents: []string{"time"}, Stream: false,
	}}
	cfg.Router.Discovery.Peers = []string{greeterURL}

	bus := eventbus.New(discard())
	defer bus.Close()
	providers, _ := llm.Build(config.LLMConfig{}, discard())

	rt, err := initRouting(cfg, providers, bus, discard())
	if err != nil {
		t.Fatal(err)
	}
	if rt.Peers == nil {
		t.Fatal("peer sync should be set up when peers are configured")
	}

	ctx := context.Background()
	res := rt.Dispatcher.Handle(ctx, "what time is it?")
	if !res.Succeeded() || res.TargetWorkerID != "clock" || !strings.HasPrefix(res.Payload, "It is ") {
		t.Fatalf("clock dispatch = %+v", res)
	}

	// Before discovery the greeter is unknown.
	if res := rt.Dispatcher.Handle(ctx, "hello"); res.Error != domain.KindNoMatchingWorker {
		t.Fatalf("before sync: %+v", res)
	}

	syncPeers(ctx, rt, cfg.Router.Discovery.Timeout, discard())
	if !rt.Registry.Has("greeting-agent") {
		t.Fatalf("greeter not discovered; registry = %v", rt.Registry.List())
	}

	var chunks int
	var final domain.DispatchResult
	for u := range rt.Dispatcher.HandleStream(ctx, "hello") {
		if u.Final() {
			final = *u.Result
			continue
		}
		chunks++
	}
	if !final.Succeeded() || !strings.HasPrefix(final.Payload, "Hello there!") {
		t.Fatalf("greeter dispatch = %+v", final)
	}
	if chunks < 2 {
		t.Errorf("expected the announcement plus streamed chunks, got %d partial updates", chunks)
	}
}

func TestInitRoutingRejectsDuplicateWorkers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Workers = append(cfg.Workers, cfg.Workers[0])
	providers, _ := llm.Build(config.LLMConfig{}, discard())
	if _, err := initRouting(cfg, providers, nil, discard()); err == nil {
		t.Error("duplicate worker IDs should fail")
	}
}

func TestBuildAgent(t *testing.T) {
	cfg := config.Defaults()
	providers, _ := llm.Build(config.LLMConfig{}, discard())

	for _, name := range []string{"greeter", "clock"} {
		agent, addr, _, err := buildAgent(name, cfg, providers, discard())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if agent.Card("http://x").Name == "" || addr == "" {
			t.Errorf("%s: incomplete agent", name)
		}
	}

	if _, _, _, err := buildAgent("weather", cfg, providers, discard()); err == nil {
		t.Error("unknown worker should fail")
	}

	cfg.Agents.Greeter.Provider = "missing"
	if _, _, _, err := buildAgent("greeter", cfg, providers, discard()); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestInitRoutingPeerSync(t *testing.T) {
	providers, _ := llm.Build(config.LLMConfig{}, discard())

	cfg := config.Defaults()
	rt, err := initRouting(cfg, providers, nil, discard())
	if err != nil {
		t.Fatalf("initRouting: %v", err)
	}
	if rt.Peers != nil {
		t.Error("no peers and no mdns should leave Peers nil")
	}

	cfg = config.Defaults()
	cfg.Router.Discovery.MDNS = true
	rt, err = initRouting(cfg, providers, nil, discard())
	if err != nil {
		t.Fatalf("initRouting: %v", err)
	}
	if rt.Peers == nil {
		t.Error("mdns discovery should create a PeerSync")
	}
}
