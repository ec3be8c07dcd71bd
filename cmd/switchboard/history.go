package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"switchboard/internal/adapter/httpapi"
	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/domain"
)

// runHistory prints the most recent dispatches of a running dispatcher.
func runHistory(args []string) error {
	limit := 20
	if v, ok := flagValue(args, "--limit"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("--limit must be a positive integer")
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recs, err := httpapi.NewClient(resolveURL(args), nil).History(ctx, limit)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, recs)
	return nil
}

// printHistory writes one line per record, newest first.
func printHistory(w io.Writer, recs []domain.DispatchRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, theme.TextMuted.Render("No dispatches recorded yet."))
		return
	}
	for _, r := range recs {
		mark := theme.TextSuccess.Render(theme.SymbolSuccess)
		outcome := r.WorkerID
		if r.Status != domain.StatusSuccess {
			mark = theme.TextError.Render(theme.SymbolError)
			outcome = string(r.Error)
			if r.WorkerID != "" {
				outcome += " (" + r.WorkerID + ")"
			}
		}
		fmt.Fprintf(w, "%s %s  %-28s %6dms  %s\n",
			mark,
			theme.Timestamp.Render(r.FinishedAt.Local().Format("15:04:05")),
			truncate(r.Query, 28),
			r.DurationMs,
			outcome,
		)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + theme.SymbolEllipsis
}
