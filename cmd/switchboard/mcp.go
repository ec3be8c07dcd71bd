package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"switchboard/internal/adapter/httpapi"
	"switchboard/internal/adapter/mcpserver"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
)

// runMCP bridges an MCP host on stdin/stdout to a running dispatcher.
// Stdout carries the protocol, so logs always go to stderr.
func runMCP(args []string) error {
	logCfg := config.Defaults().Logger
	if cfg, err := config.Load(configPath()); err == nil {
		logCfg = cfg.Logger
	}
	logCfg.Output = "stderr"

	log, logCloser, err := logger.New(logCfg, serviceName+"-mcp")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url := resolveURL(args)
	log.Info("mcp bridge starting", "dispatcher", url)
	srv := mcpserver.New(httpapi.NewClient(url, nil), Version, log)
	return mcpserver.ServeStdio(ctx, srv, os.Stdin, os.Stdout, log)
}
