package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"switchboard/internal/adapter/gateway"
	"switchboard/internal/adapter/llm"
	"switchboard/internal/adapter/worker"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/middleware"
	"switchboard/internal/usecase/routing"
)

// routingRuntime holds the dispatcher and what feeds it.
type routingRuntime struct {
	Registry   *routing.Registry
	Dispatcher *routing.Dispatcher
	Peers      *routing.PeerSync // nil without discovery peers or mdns
}

func initRouting(cfg *config.Config, providers *llm.Registry, bus domain.EventBus, log *slog.Logger) (*routingRuntime, error) {
	routingLog := logger.Component(log, "routing")

	classifier, err := buildClassifier(cfg, providers, routingLog)
	if err != nil {
		return nil, err
	}

	reg := routing.NewRegistry(routingLog)
	d := routing.NewDispatcher(reg, classifier, bus, routingLog)
	workerLog := logger.Component(log, "worker")

	for _, wc := range cfg.Workers {
		desc := descriptorFromConfig(wc)
		if err := reg.Register(desc); err != nil {
			return nil, err
		}
		c := newWorkerClient(cfg, desc, workerLog)
		var client routing.WorkerClient = c
		if !wc.Stream {
			client = worker.InvokeOnly(c)
		}
		if err := d.BindClient(desc.ID, client); err != nil {
			return nil, err
		}
	}

	rt := &routingRuntime{Registry: reg, Dispatcher: d}
	dc := cfg.Router.Discovery
	if len(dc.Peers) > 0 || dc.MDNS {
		disc := worker.NewDiscoverer(nil, dc.Timeout)
		newClient := func(desc domain.WorkerDescriptor) routing.WorkerClient {
			return newWorkerClient(cfg, desc, workerLog)
		}
		rt.Peers = routing.NewPeerSync(d, disc, newClient, dc.Peers, bus, routingLog)
		if dc.MDNS {
			rt.Peers.AddSource(worker.NewMDNS(logger.Component(log, "mdns"), dc.Timeout))
		}
	}
	return rt, nil
}

// newWorkerClient builds a streaming-capable worker client sharing the LLM
// circuit breaker settings.
func newWorkerClient(cfg *config.Config, desc domain.WorkerDescriptor, log *slog.Logger) *worker.Client {
	return worker.New(desc, worker.WithLogger(log), worker.WithBreaker(cfg.LLM.CircuitBreaker))
}

func descriptorFromConfig(wc config.WorkerConfig) domain.WorkerDescriptor {
	desc := domain.NewWorkerDescriptor(wc.ID, wc.Name, wc.Description, wc.Intents)
	desc.Endpoint = wc.Endpoint
	desc.Examples = wc.Examples
	desc.Timeout = wc.Timeout
	return desc
}

// buildClassifier selects the classifier named by router.classifier. The
// keyword classifier always uses the built-in lexicon overlaid with the
// configured one.
func buildClassifier(cfg *config.Config, providers *llm.Registry, log *slog.Logger) (routing.Classifier, error) {
	keyword := routing.NewKeywordClassifier(mergeLexicon(routing.DefaultLexicon, cfg.Router.Lexicon), log)
	if cfg.Router.Classifier == "keyword" || cfg.Router.Classifier == "" {
		return keyword, nil
	}

	provider, err := providers.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("classifier provider: %w", err)
	}
	llmClassifier, err := routing.NewLLMClassifier(provider, routing.LLMClassifierConfig{
		Model:         cfg.Router.Model,
		Timeout:       cfg.Router.ClassifierTimeout,
		MinConfidence: cfg.Router.MinConfidence,
	}, log)
	if err != nil {
		return nil, err
	}

	switch cfg.Router.Classifier {
	case "llm":
		return llmClassifier, nil
	case "fallback":
		return &routing.FallbackClassifier{
			Primary:               llmClassifier,
			Secondary:             keyword,
			FallbackOnUnavailable: cfg.Router.FallbackOnUnavailable,
			Logger:                log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Router.Classifier)
	}
}

// mergeLexicon returns base overlaid with extra; an intent in extra replaces
// the base synonyms for that intent.
func mergeLexicon(base, extra map[string][]string) map[string][]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string][]string, len(extra))
	}
	maps.Copy(out, extra)
	return out
}

// syncPeers runs one discovery round, bounded by timeout per round.
func syncPeers(ctx context.Context, rt *routingRuntime, timeout time.Duration, log *slog.Logger) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout*2)
	defer cancel()
	added, err := rt.Peers.Sync(ctx)
	if err != nil {
		log.Warn("peer discovery incomplete; unreachable peers are retried on refresh", "error", err)
	}
	if len(added) > 0 {
		log.Info("discovered workers", "workers", added)
	}
}

func initGateway(ctx context.Context, cfg *config.Config, rt *routingRuntime, bus domain.EventBus, log *slog.Logger) *gateway.Server {
	gwLog := logger.Component(log, "gateway")
	gw := gateway.NewServer(bus, gateway.NewAuthenticator(cfg.Gateway.Auth), cfg.Gateway.Addr, gwLog,
		gateway.WithMiddleware(
			middleware.RequestLogger(gwLog),
			middleware.RateLimit(ctx, cfg.Server.RateLimit),
		),
	)
	deps := gateway.HandlerDeps{
		Dispatcher: rt.Dispatcher,
		Workers:    rt.Registry,
		Bus:        bus,
		Logger:     gwLog,
	}
	if rt.Peers != nil {
		deps.Peers = rt.Peers
	}
	gateway.RegisterDefaultHandlers(gw, deps)
	gateway.RegisterRESTHandlers(gw, deps, Version)
	return gw
}

// probeClient is used by doctor and ask for short one-off requests.
func probeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
