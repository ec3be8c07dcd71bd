package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/usecase/eventbus"
)

func publishFailure(bus domain.EventBus, kind domain.ErrorKind) {
	payload, _ := json.Marshal(domain.DispatchEventPayload{Status: domain.StatusFailure, Error: kind})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventDispatchFailed, Timestamp: time.Now(), Payload: payload})
}

func observedMetrics(t *testing.T) *Metrics {
	t.Helper()
	bus := eventbus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := NewMetrics(time.Now().Add(-time.Minute))
	m.Observe(bus)

	ctx := context.Background()
	for range 3 {
		bus.Publish(ctx, domain.Event{Type: domain.EventDispatchStarted})
	}
	bus.Publish(ctx, domain.Event{Type: domain.EventDispatchCompleted})
	publishFailure(bus, domain.KindNoMatchingWorker)
	publishFailure(bus, domain.KindWorkerTimeout)
	bus.Publish(ctx, domain.Event{Type: domain.EventWorkerDiscovered})
	bus.Close()
	return m
}

func TestMetricsObserve(t *testing.T) {
	m := observedMetrics(t)

	if got := m.DispatchStarted.Load(); got != 3 {
		t.Errorf("started = %d", got)
	}
	if got := m.DispatchSucceeded.Load(); got != 1 {
		t.Errorf("succeeded = %d", got)
	}
	if got := m.DispatchFailed.Load(); got != 2 {
		t.Errorf("failed = %d", got)
	}
	byKind := m.FailuresByKind()
	if byKind["NoMatchingWorkerError"] != 1 || byKind["WorkerTimeoutError"] != 1 {
		t.Errorf("by kind = %v", byKind)
	}
}

func TestStatusHandler(t *testing.T) {
	deps, _ := newHandlerDeps()
	m := observedMetrics(t)

	w := httptest.NewRecorder()
	statusHandler(deps, nil, m, "v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Service.Name != "switchboard" || resp.Service.Version != "v1.2.3" {
		t.Errorf("service = %+v", resp.Service)
	}
	if resp.Service.UptimeSeconds < 59 {
		t.Errorf("uptime = %d", resp.Service.UptimeSeconds)
	}
	if resp.Workers.Registered != 2 || resp.Workers.IDs[0] != "greeter" {
		t.Errorf("workers = %+v", resp.Workers)
	}
	if resp.Workers.Discovered != 1 {
		t.Errorf("discovered = %d", resp.Workers.Discovered)
	}
	if resp.Dispatch.Total != 3 || resp.Dispatch.Failed != 2 {
		t.Errorf("dispatch = %+v", resp.Dispatch)
	}
}

func TestMetricsHandler(t *testing.T) {
	deps, _ := newHandlerDeps()
	m := observedMetrics(t)

	w := httptest.NewRecorder()
	metricsHandler(deps, m)(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	for _, want := range []string{
		"switchboard_dispatch_started_total 3",
		`switchboard_dispatch_failed_total{error="NoMatchingWorkerError"} 1`,
		"switchboard_workers_registered 2",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestRESTHandlersRequireToken(t *testing.T) {
	deps, _ := newHandlerDeps()
	srv := startTestServer(t, &testBus{}, func(s *Server) { RegisterRESTHandlers(s, deps, "test") })

	resp, err := http.Get("http://" + srv.BoundAddr() + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + srv.BoundAddr() + "/metrics?token=test-token")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d", resp.StatusCode)
	}
}
