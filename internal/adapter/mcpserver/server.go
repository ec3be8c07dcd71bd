// Package mcpserver exposes a dispatcher to MCP hosts as two tools: dispatch
// and list_workers.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"switchboard/internal/domain"
)

// Backend is the dispatcher the tools call.
type Backend interface {
	Dispatch(ctx context.Context, query string) (domain.DispatchResult, error)
	Workers(ctx context.Context) ([]domain.WorkerDescriptor, error)
}

type tools struct {
	backend Backend
	logger  *slog.Logger
}

// New builds an MCP server whose tools call backend.
func New(backend Backend, version string, logger *slog.Logger) *server.MCPServer {
	t := &tools{backend: backend, logger: logger}
	s := server.NewMCPServer("switchboard", version, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("dispatch",
		mcp.WithDescription("Route a natural-language request to the single best worker and return its answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The request, e.g. \"what time is it in Tokyo?\"")),
	), t.dispatch)
	s.AddTool(mcp.NewTool("list_workers",
		mcp.WithDescription("List the workers the dispatcher can route to, with their intents."),
	), t.listWorkers)
	return s
}

// ServeStdio runs s over in and out until ctx is cancelled or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func (t *tools) dispatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.backend.Dispatch(ctx, query)
	if err != nil {
		t.logger.Warn("mcp dispatch failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Succeeded() {
		msg := string(res.Error)
		if res.ErrorDetail != "" {
			msg += ": " + res.ErrorDetail
		}
		return mcp.NewToolResultError(msg), nil
	}
	return mcp.NewToolResultText(res.Payload), nil
}

// workerSummary is the list_workers entry.
type workerSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Intents     []string `json:"intents"`
}

func (t *tools) listWorkers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workers, err := t.backend.Workers(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]workerSummary, 0, len(workers))
	for _, w := range workers {
		out = append(out, workerSummary{
			ID:          w.ID,
			Name:        w.Name(),
			Description: w.Description,
			Intents:     w.AcceptedIntents,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal workers: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
