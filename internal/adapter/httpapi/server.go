// Package httpapi serves the dispatcher over plain HTTP. Each dispatch is one
// JSON request, with an SSE variant for streamed dispatches. Workers and the
// dispatch history are listed alongside.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"switchboard/internal/domain"
)

const (
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Dispatcher is the routing surface the API drives.
type Dispatcher interface {
	Handle(ctx context.Context, rawQuery string) domain.DispatchResult
	HandleStream(ctx context.Context, rawQuery string) iter.Seq[domain.DispatchUpdate]
}

// WorkerLister lists registered workers.
type WorkerLister interface {
	List() []domain.WorkerDescriptor
}

// HistoryReader returns recently finished dispatches, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domain.DispatchRecord, error)
}

// DispatchRequest is the body of both dispatch endpoints.
type DispatchRequest struct {
	Query string `json:"query"`
}

// ErrorResponse is returned for requests the API rejects before dispatching.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Server is the dispatcher's HTTP front end.
type Server struct {
	dispatcher Dispatcher
	workers    WorkerLister
	history    HistoryReader
	logger     *slog.Logger
	addr       string
	timeouts   Timeouts
	middleware []func(http.Handler) http.Handler

	httpSrv   *http.Server
	boundAddr atomic.Value // string
}

// Timeouts bounds reads and writes on the listener. Zero means no limit.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware wraps every route; the first middleware is the outermost.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithTimeouts sets server read and write timeouts. The write timeout also
// bounds streamed dispatches.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithHistory serves GET /api/v1/dispatches from h.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// NewServer creates the HTTP API server.
func NewServer(d Dispatcher, workers WorkerLister, addr string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{dispatcher: d, workers: workers, logger: logger, addr: addr}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /api/v1/dispatch/stream", s.handleDispatchStream)
	mux.HandleFunc("GET /api/v1/workers", s.handleWorkers)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.history != nil {
		mux.HandleFunc("GET /api/v1/dispatches", s.handleHistory)
	}

	var h http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi listen: %w", err)
	}
	s.boundAddr.Store(ln.Addr().String())
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.timeouts.Write,
	}
	s.logger.Info("http api started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi serve: %w", err)
	}
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// BoundAddr returns the listening address, or "" before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (DispatchRequest, bool) {
	var req DispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  string(domain.KindInvalidInput),
			Detail: "malformed request body: " + err.Error(),
		})
		return req, false
	}
	return req, true
}

// handleDispatch answers 200 for success and failure envelopes alike; only a
// body that cannot be read is a 400.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Handle(r.Context(), req.Query))
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := s.workers.List()
	if workers == nil {
		workers = []domain.WorkerDescriptor{}
	}
	writeJSON(w, http.StatusOK, workers)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  string(domain.KindInvalidInput),
				Detail: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: string(domain.KindInternal)})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"workers": len(s.workers.List()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
