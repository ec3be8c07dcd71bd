package gateway

import (
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"slices"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text
// format.
func metricsHandler(deps HandlerDeps, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		gauge := func(name, help string, v any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
		}
		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}

		counter("switchboard_dispatch_started_total", "Dispatches started.", metrics.DispatchStarted.Load())
		counter("switchboard_dispatch_succeeded_total", "Dispatches that returned a success envelope.", metrics.DispatchSucceeded.Load())

		fmt.Fprintf(w, "# HELP switchboard_dispatch_failed_total Dispatches that returned a failure envelope.\n")
		fmt.Fprintf(w, "# TYPE switchboard_dispatch_failed_total counter\n")
		byKind := metrics.FailuresByKind()
		for _, kind := range slices.Sorted(maps.Keys(byKind)) {
			fmt.Fprintf(w, "switchboard_dispatch_failed_total{error=%q} %d\n", kind, byKind[kind])
		}
		if len(byKind) == 0 {
			fmt.Fprintf(w, "switchboard_dispatch_failed_total %d\n", metrics.DispatchFailed.Load())
		}

		counter("switchboard_stream_chunks_total", "Partial chunks relayed from streaming workers.", metrics.ChunksRelayed.Load())
		counter("switchboard_workers_discovered_total", "Workers registered by peer discovery.", metrics.WorkersDiscovered.Load())
		counter("switchboard_peers_unreachable_total", "Failed peer discovery attempts.", metrics.PeersUnreachable.Load())
		gauge("switchboard_workers_registered", "Registered workers.", len(deps.Workers.List()))
		gauge("switchboard_uptime_seconds", "Seconds since the dispatcher started.", int64(metrics.Uptime().Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge("go_goroutines", "Number of goroutines.", runtime.NumGoroutine())
		gauge("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", mem.Alloc)
		gauge("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", mem.Sys)
	}
}
