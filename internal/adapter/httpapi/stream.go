package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSE event names on /api/v1/dispatch/stream.
const (
	EventUpdate = "update"
	EventResult = "result"
)

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleDispatchStream relays partial updates as "update" events and ends with
// one "result" event carrying the DispatchResult. A client that disconnects
// cancels the in-flight worker call.
func (s *Server) handleDispatchStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	for u := range s.dispatcher.HandleStream(r.Context(), req.Query) {
		var err error
		if u.Final() {
			err = sse.send(EventResult, u.Result)
		} else {
			err = sse.send(EventUpdate, u)
		}
		if err != nil {
			s.logger.Debug("dispatch stream client gone", "task_id", u.TaskID, "error", err)
			return
		}
	}
}
