package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"switchboard/internal/adapter/httpapi"
	"switchboard/internal/adapter/tui/console"
	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/adapter/tui/uxerror"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// runAsk sends one query to a running dispatcher and prints the answer.
func runAsk(args []string) error {
	query := strings.TrimSpace(strings.Join(positional(args, "--url", "--config"), " "))
	if query == "" {
		return fmt.Errorf(`usage: switchboard ask [--url URL] [--plain] "QUERY"`)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := httpapi.NewClient(resolveURL(args), nil)
	res, err := ask(ctx, client, query, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, theme.TextError.Render(uxerror.Humanize(err).Render()))
		return err
	}
	return printResult(os.Stdout, os.Stderr, res, hasFlag(args, "--plain"))
}

// resolveURL finds the dispatcher without requiring a valid config file.
func resolveURL(args []string) string {
	if _, ok := flagValue(args, "--url"); ok {
		return dispatcherURL(args, nil)
	}
	cfg, err := config.Load(configPath())
	if err != nil {
		cfg = nil
	}
	return dispatcherURL(args, cfg)
}

// ask streams query and returns the final result. The routing announcement
// is written to progress.
func ask(ctx context.Context, client console.Client, query string, progress io.Writer) (domain.DispatchResult, error) {
	announced := false
	for u, err := range client.Stream(ctx, query) {
		if err != nil {
			return domain.DispatchResult{}, err
		}
		if u.Final() {
			return *u.Result, nil
		}
		if !announced {
			announced = true
			fmt.Fprintln(progress, theme.TextMuted.Render(u.Content))
		}
	}
	return domain.DispatchResult{}, fmt.Errorf("dispatcher closed the stream without a result")
}

// printResult writes a successful payload to out, rendered as markdown
// unless plain is set. Failures are described on errOut and returned.
func printResult(out, errOut io.Writer, res domain.DispatchResult, plain bool) error {
	if !res.Succeeded() {
		fmt.Fprintln(errOut, theme.TextError.Render(uxerror.FromResult(res).Render()))
		return fmt.Errorf("%s: %s", res.Error, res.ErrorDetail)
	}
	if plain {
		_, err := fmt.Fprintln(out, res.Payload)
		return err
	}

	header := theme.WorkerLabel.Render(res.TargetWorkerID)
	body := res.Payload
	if r, err := console.NewMarkdownRenderer(80); err == nil {
		if rendered, err := r.Render(res.Payload); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}
	_, err := fmt.Fprintln(out, header+"\n"+body)
	return err
}

// runConsole opens the interactive console.
func runConsole() error {
	url := resolveURL(os.Args[2:])
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	renderer, err := console.NewMarkdownRenderer(theme.MaxContentWidth)
	if err != nil {
		renderer = nil
	}
	return console.Run(ctx, console.Deps{
		Client:   httpapi.NewClient(url, nil),
		Target:   strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://"),
		Renderer: renderer,
	})
}
