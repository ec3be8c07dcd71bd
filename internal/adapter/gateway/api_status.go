package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus  `json:"service"`
	Workers  WorkerStatus   `json:"workers"`
	Dispatch DispatchStatus `json:"dispatch"`
	Clients  int            `json:"clients"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// WorkerStatus lists the registered workers.
type WorkerStatus struct {
	Registered int      `json:"registered"`
	IDs        []string `json:"ids"`
	Discovered int64    `json:"discovered_total"`
}

// DispatchStatus holds dispatch counters.
type DispatchStatus struct {
	Total     int64            `json:"total"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	ByError   map[string]int64 `json:"by_error,omitempty"`
}

// Metrics counts dispatch and discovery events for the status API and the
// metrics endpoint.
type Metrics struct {
	start time.Time

	DispatchStarted   atomic.Int64
	DispatchSucceeded atomic.Int64
	DispatchFailed    atomic.Int64
	ChunksRelayed     atomic.Int64
	WorkersDiscovered atomic.Int64
	PeersUnreachable  atomic.Int64

	mu      sync.Mutex
	byError map[domain.ErrorKind]int64
}

// NewMetrics creates counters with start as the uptime origin.
func NewMetrics(start time.Time) *Metrics {
	return &Metrics{start: start, byError: make(map[domain.ErrorKind]int64)}
}

// Observe subscribes the counters to bus. The returned function unsubscribes.
func (m *Metrics) Observe(bus domain.EventBus) func() {
	unsubs := []func(){
		bus.Subscribe(domain.EventDispatchStarted, func(context.Context, domain.Event) { m.DispatchStarted.Add(1) }),
		bus.Subscribe(domain.EventDispatchCompleted, func(context.Context, domain.Event) { m.DispatchSucceeded.Add(1) }),
		bus.Subscribe(domain.EventDispatchChunk, func(context.Context, domain.Event) { m.ChunksRelayed.Add(1) }),
		bus.Subscribe(domain.EventWorkerDiscovered, func(context.Context, domain.Event) { m.WorkersDiscovered.Add(1) }),
		bus.Subscribe(domain.EventWorkerUnreachable, func(context.Context, domain.Event) { m.PeersUnreachable.Add(1) }),
		bus.Subscribe(domain.EventDispatchFailed, func(_ context.Context, e domain.Event) {
			m.DispatchFailed.Add(1)
			var p domain.DispatchEventPayload
			if json.Unmarshal(e.Payload, &p) == nil && p.Error != "" {
				m.mu.Lock()
				m.byError[p.Error]++
				m.mu.Unlock()
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// FailuresByKind returns a copy of the failure counts keyed by error kind.
func (m *Metrics) FailuresByKind() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.byError))
	for k, v := range m.byError {
		out[string(k)] = v
	}
	return out
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.start) }

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, s *Server, metrics *Metrics, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		workers := deps.Workers.List()
		ids := make([]string, len(workers))
		for i, d := range workers {
			ids[i] = d.ID
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "switchboard",
				Version:       version,
				UptimeSeconds: int64(metrics.Uptime().Seconds()),
			},
			Workers: WorkerStatus{
				Registered: len(workers),
				IDs:        ids,
				Discovered: metrics.WorkersDiscovered.Load(),
			},
			Dispatch: DispatchStatus{
				Total:     metrics.DispatchStarted.Load(),
				Succeeded: metrics.DispatchSucceeded.Load(),
				Failed:    metrics.DispatchFailed.Load(),
				ByError:   metrics.FailuresByKind(),
			},
		}
		if s != nil {
			resp.Clients = s.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
