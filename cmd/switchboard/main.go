package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"switchboard/internal/adapter/gateway"
	"switchboard/internal/adapter/history"
	"switchboard/internal/adapter/httpapi"
	"switchboard/internal/adapter/llm"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/middleware"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase/eventbus"
	"switchboard/internal/usecase/scheduling"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const serviceName = "switchboard"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println(serviceName, Version)
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		exitOn("fatal", run())
		return
	}

	switch os.Args[1] {
	case "run":
		exitOn("fatal", run())
	case "worker":
		exitOn("worker", runWorker(os.Args[2:]))
	case "ask":
		exitOn("ask", runAsk(os.Args[2:]))
	case "console":
		exitOn("console", runConsole())
	case "doctor":
		exitOn("doctor", runDoctor())
	case "history":
		exitOn("history", runHistory(os.Args[2:]))
	case "mcp":
		exitOn("mcp", runMCP(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'switchboard --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func exitOn(prefix string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`switchboard - single-shot task router for A2A workers

USAGE:
    switchboard [COMMAND] [FLAGS]

COMMANDS:
    run                 Run the dispatcher (default)
    worker NAME         Run a demo worker: greeter or clock
    ask QUERY           Send one query to a running dispatcher
    console             Interactive console for a running dispatcher
    doctor              Check config, providers and worker reachability
    history             Show recent dispatches of a running dispatcher
    mcp                 Serve a running dispatcher as MCP tools over stdio
    version             Print the version

FLAGS:
    -h, --help          Show this help message
    --config PATH       Config file path (default: ./config.yaml)
    --addr HOST:PORT    Listen address (worker only)
    --advertise         Announce the worker over mDNS (worker only)
    --url URL           Dispatcher URL (ask, console, history, mcp)
    --plain             Print the raw payload (ask only)
    --limit N           Number of dispatches to show (history only)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: SWITCHBOARD_* variables override config

EXAMPLES:
    switchboard worker greeter &
    switchboard worker clock &
    switchboard
    switchboard ask "what time is it in Tokyo?"
    switchboard console
    switchboard history --limit 5`)
}

// flagValue returns the value of --name given as "--name v" or "--name=v".
func flagValue(args []string, name string) (string, bool) {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1], true
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

// positional returns args with flags and their values removed.
func positional(args []string, valued ...string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			out = append(out, arg)
			continue
		}
		for _, name := range valued {
			if arg == name {
				i++
				break
			}
		}
	}
	return out
}

func configPath() string {
	if p, ok := flagValue(os.Args, "--config"); ok {
		return p
	}
	if p := os.Getenv("SWITCHBOARD_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// dispatcherURL picks the API base URL: --url, then SWITCHBOARD_URL, then the
// configured server address.
func dispatcherURL(args []string, cfg *config.Config) string {
	if u, ok := flagValue(args, "--url"); ok {
		return u
	}
	if u := os.Getenv("SWITCHBOARD_URL"); u != "" {
		return u
	}
	addr := ":8080"
	if cfg != nil && cfg.Server.Addr != "" {
		addr = cfg.Server.Addr
	}
	return localURL(addr)
}

// localURL turns a listen address into a URL a local client can dial.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger, serviceName)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, serviceName)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. LLM providers
	providers, err := llm.Build(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Event bus
	bus := eventbus.New(logger.Component(log, "eventbus"))
	defer bus.Close()

	// 5. Registry, classifier, dispatcher, peer discovery
	rt, err := initRouting(cfg, providers, bus, log)
	if err != nil {
		return fmt.Errorf("routing: %w", err)
	}

	// 5b. Dispatch history
	var apiOpts []httpapi.Option
	if cfg.History.Path != "" {
		store, err := history.NewSQLiteStore(cfg.History.Path, cfg.History.Retain)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer store.Close()
		unsub := history.Record(bus, store, logger.Component(log, "history"))
		defer unsub()
		apiOpts = append(apiOpts, httpapi.WithHistory(store))
	}

	// 6. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 6b. Cluster event relay
	relay, err := initCluster(ctx, cfg.Cluster, bus, log)
	if err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if relay != nil {
		defer relay.Stop()
	}

	// 7. Initial discovery and refresh schedule
	var sched *scheduling.Scheduler
	if rt.Peers != nil {
		syncPeers(ctx, rt, cfg.Router.Discovery.Timeout, log)
		if cfg.Router.Discovery.Refresh != "" {
			sched = scheduling.NewScheduler(logger.Component(log, "scheduler"))
			if err := sched.Add(scheduling.Job{
				Name:     "peer-discovery",
				Schedule: cfg.Router.Discovery.Refresh,
				Timeout:  time.Minute,
				Run: func(ctx context.Context) error {
					_, err := rt.Peers.Sync(ctx)
					return err
				},
			}); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			defer sched.Stop()
		}
	}
	if rt.Registry.Len() == 0 {
		log.Warn("no workers registered yet; every query will fail until discovery succeeds")
	}

	// 8. HTTP API
	apiOpts = append(apiOpts,
		httpapi.WithTimeouts(httpapi.Timeouts{Read: cfg.Server.ReadTimeout, Write: cfg.Server.WriteTimeout}),
		httpapi.WithMiddleware(
			middleware.RequestLogger(log),
			middleware.SecurityHeaders,
			middleware.RateLimit(ctx, cfg.Server.RateLimit),
		),
	)
	api := httpapi.NewServer(rt.Dispatcher, rt.Registry, cfg.Server.Addr, logger.Component(log, "httpapi"), apiOpts...)

	// 9. Gateway
	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = initGateway(ctx, cfg, rt, bus, log)
	}

	// 10. Start
	log.Info("switchboard starting",
		"version", Version,
		"classifier", cfg.Router.Classifier,
		"workers", rt.Registry.Len(),
		"peers", len(cfg.Router.Discovery.Peers),
		"mdns", cfg.Router.Discovery.MDNS,
		"history", cfg.History.Path != "",
		"cluster", cfg.Cluster.Enabled,
		"gateway", cfg.Gateway.Enabled,
	)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	serve := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}
	serve("http api", api.Start)
	if gw != nil {
		serve("gateway", gw.Start)
	}

	<-ctx.Done()
	log.Info("switchboard shutting down")
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
