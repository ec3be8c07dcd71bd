package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/adapter/llm"
	"switchboard/internal/adapter/worker"
	"switchboard/internal/agents"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/middleware"
	"switchboard/internal/infra/tracer"
)

// demoAgent is what both built-in workers provide.
type demoAgent interface {
	a2a.Executor
	Card(url string) a2a.AgentCard
}

// runWorker serves one demo worker over A2A until interrupted.
func runWorker(args []string) error {
	names := positional(args, "--addr", "--config", "--public-url")
	if len(names) != 1 {
		return fmt.Errorf("usage: switchboard worker <greeter|clock> [--addr HOST:PORT] [--public-url URL] [--advertise]")
	}
	name := names[0]

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger, serviceName+"-"+name)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, serviceName+"-"+name)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	providers, err := llm.Build(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	agent, addr, publicURL, err := buildAgent(name, cfg, providers, log)
	if err != nil {
		return err
	}
	if v, ok := flagValue(args, "--addr"); ok {
		addr = v
		publicURL = ""
	}
	if v, ok := flagValue(args, "--public-url"); ok {
		publicURL = v
	}
	if publicURL == "" {
		publicURL = localURL(addr)
	}

	if cfg.Agents.Advertise || hasFlag(args, "--advertise") {
		advertise(ctx, name, addr, publicURL, log)
	}

	srv := a2a.NewServer(agent.Card(publicURL), agent, addr, log,
		a2a.WithMiddleware(func(h http.Handler) http.Handler {
			return middleware.Chain(h, middleware.RequestLogger(log), middleware.SecurityHeaders)
		}),
	)
	return srv.Start(ctx)
}

// advertise announces the worker over mDNS in the background until ctx ends.
func advertise(ctx context.Context, name, addr, publicURL string, log *slog.Logger) {
	_, portStr, err := net.SplitHostPort(addr)
	port, perr := strconv.Atoi(portStr)
	if err != nil || perr != nil || port == 0 {
		log.Warn("mdns advertising needs a fixed port", "addr", addr)
		return
	}
	m := worker.NewMDNS(logger.Component(log, "mdns"), 0)
	go func() {
		if err := m.Advertise(ctx, serviceName+"-"+name, port, publicURL); err != nil {
			log.Warn("mdns advertising failed", "error", err)
		}
	}()
}

// buildAgent constructs the named demo worker and its configured listen
// address and public URL.
func buildAgent(name string, cfg *config.Config, providers *llm.Registry, log *slog.Logger) (demoAgent, string, string, error) {
	lookup := func(provider string) (domain.LLMProvider, error) {
		if provider == "" {
			return nil, nil
		}
		p, err := providers.Get(provider)
		if err != nil {
			return nil, fmt.Errorf("%s provider: %w", name, err)
		}
		return p, nil
	}

	switch name {
	case "greeter":
		gc := cfg.Agents.Greeter
		p, err := lookup(gc.Provider)
		if err != nil {
			return nil, "", "", err
		}
		return agents.NewGreeter(p, gc.Model, log), gc.Addr, gc.PublicURL, nil

	case "clock":
		cc := cfg.Agents.Clock
		p, err := lookup(cc.Provider)
		if err != nil {
			return nil, "", "", err
		}
		var opts []agents.ClockOption
		if p != nil {
			opts = append(opts, agents.WithLocationModel(p, cc.Model))
		}
		c, err := agents.NewClock(cc.DefaultZone, log, opts...)
		if err != nil {
			return nil, "", "", err
		}
		return c, cc.Addr, cc.PublicURL, nil

	default:
		return nil, "", "", fmt.Errorf("unknown worker %q (want: greeter, clock)", name)
	}
}
