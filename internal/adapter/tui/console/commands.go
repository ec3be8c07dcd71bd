package console

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// dispatchCmd starts streaming query in a background goroutine and returns
// the first message. Later messages are pulled with waitCmd. The goroutine
// exits when ctx is cancelled even if nobody reads the channel again.
func dispatchCmd(ctx context.Context, client Client, query string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		ch := make(chan streamItem)
		go func() {
			defer close(ch)
			for u, err := range client.Stream(ctx, query) {
				select {
				case ch <- streamItem{update: u, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nextMsg(ch, gen)
	}
}

func waitCmd(ch <-chan streamItem, gen uint64) tea.Cmd {
	return func() tea.Msg {
		return nextMsg(ch, gen)
	}
}

func nextMsg(ch <-chan streamItem, gen uint64) tea.Msg {
	item, ok := <-ch
	switch {
	case !ok:
		return streamClosedMsg{gen: gen}
	case item.err != nil:
		return streamErrMsg{err: item.err, gen: gen}
	default:
		return updateMsg{update: item.update, next: ch, gen: gen}
	}
}

func listWorkersCmd(ctx context.Context, client Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		workers, err := client.Workers(ctx)
		return workersMsg{workers: workers, err: err}
	}
}
