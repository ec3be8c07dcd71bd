package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"switchboard/internal/domain"
)

// maxSSELine bounds one SSE line; model chunks can exceed bufio's 64 KiB default.
const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE "data:" payloads from body and converts each into a
// StreamDelta with the provider-specific parseLine. The channel always ends
// with exactly one Done delta unless ctx is cancelled first, and is closed
// when the stream ends.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			data, ok := sseData(scanner.Bytes())
			if !ok {
				continue
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) || delta.Done {
				return
			}
		}
		send(domain.StreamDelta{Done: true})
	}()
	return ch
}

// sseData extracts the payload of a "data:" line. Comments, blank lines and
// other fields are skipped.
func sseData(line []byte) ([]byte, bool) {
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimPrefix(rest, []byte(" ")), true
}
