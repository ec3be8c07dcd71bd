package a2a

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
)

const maxEventSize = 1024 * 1024

// EventWriter writes JSON-RPC responses as server-sent events.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter sets the SSE headers on w. It fails when w cannot flush.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("a2a: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &EventWriter{w: w, flusher: flusher}, nil
}

// Write sends one event and flushes it.
func (e *EventWriter) Write(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// ReadEvents lazily decodes the JSON-RPC responses carried by an SSE body.
// A read or decode error is yielded once and ends the sequence.
func ReadEvents(r io.Reader) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			data, ok := bytes.CutPrefix(scanner.Bytes(), []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)
			if len(data) == 0 {
				continue
			}
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				yield(Response{}, fmt.Errorf("a2a: malformed event: %w", err))
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Response{}, err)
		}
	}
}
