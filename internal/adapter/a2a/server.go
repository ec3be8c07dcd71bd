package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

const maxRequestBody = 1 << 20

// Executor runs one task on the worker side. The sequence ends with exactly
// one Final chunk carrying the WorkerResult; earlier chunks are progress.
type Executor interface {
	Execute(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk]
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk]

func (f ExecutorFunc) Execute(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return f(ctx, task)
}

// Server exposes an Executor as a JSON-RPC worker with an agent card.
type Server struct {
	card       AgentCard
	exec       Executor
	logger     *slog.Logger
	addr       string
	middleware func(http.Handler) http.Handler
	httpSrv    *http.Server
	boundAddr  string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMiddleware wraps the server's handler.
func WithMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.middleware = mw }
}

// NewServer creates a worker server listening on addr.
func NewServer(card AgentCard, exec Executor, addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{card: card, exec: exec, addr: addr, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP handler serving the agent card and JSON-RPC.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+AgentCardPath, s.handleCard)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	if s.middleware != nil {
		return s.middleware(mux)
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("worker listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("worker started", "agent", s.card.Name, "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, NewError(nil, CodeParseError, "parse error"))
		return
	}
	if req.JSONRPC != Version {
		writeJSON(w, NewError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}
	if req.Method != MethodSend && req.Method != MethodStream {
		writeJSON(w, NewError(req.ID, CodeMethodNotFound, domain.ErrRPCMethodNotFound.Error()+": "+req.Method))
		return
	}

	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.Message.Text()) == "" {
		writeJSON(w, NewError(req.ID, CodeInvalidParams, domain.ErrRPCInvalidPayload.Error()))
		return
	}

	task := domain.Task{
		ID:        params.Message.TaskID,
		Content:   params.Message.Text(),
		CreatedAt: time.Now(),
	}
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}

	ctx, span := tracer.StartSpan(r.Context(), "worker.execute",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", s.card.Name),
			tracer.StringAttr("task.id", task.ID),
			tracer.StringAttr("rpc.method", req.Method),
		),
	)
	defer span.End()

	s.logger.Debug("task received", "task_id", task.ID, "method", req.Method)

	var res domain.WorkerResult
	if req.Method == MethodStream {
		res = s.stream(ctx, w, req.ID, task)
	} else {
		res = s.send(ctx, w, req.ID, task)
	}

	if res.Succeeded() {
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, errors.New(res.ErrorDetail))
	}
	s.logger.Info("task finished", "task_id", task.ID, "status", res.Status)
}

func (s *Server) send(ctx context.Context, w http.ResponseWriter, id json.RawMessage, task domain.Task) domain.WorkerResult {
	res := finalResult(task, s.exec.Execute(ctx, task))
	resp, err := NewResult(id, TaskFromResult(res))
	if err != nil {
		writeJSON(w, NewError(id, CodeInternalError, err.Error()))
		return res
	}
	writeJSON(w, resp)
	return res
}

func (s *Server) stream(ctx context.Context, w http.ResponseWriter, id json.RawMessage, task domain.Task) domain.WorkerResult {
	ew, err := NewEventWriter(w)
	if err != nil {
		writeJSON(w, NewError(id, CodeInternalError, err.Error()))
		return domain.WorkerFailure(task, "", domain.ErrWorkerTransport, err.Error())
	}

	emit := func(ev StreamEvent) bool {
		resp, err := NewResult(id, ev)
		if err != nil {
			return false
		}
		return ew.Write(resp) == nil
	}

	emit(StreamEvent{Kind: KindStatusUpdate, TaskID: task.ID, Status: &TaskStatus{State: StateSubmitted, Timestamp: now()}})

	for chunk := range s.exec.Execute(ctx, task) {
		if chunk.Final && chunk.Result != nil {
			res := *chunk.Result
			for _, ev := range FinalEvents(task.ID, res) {
				emit(ev)
			}
			return res
		}
		if chunk.Content == "" {
			continue
		}
		msg := NewTextMessage(ulid.Make().String(), task.ID, RoleAgent, chunk.Content)
		if !emit(StreamEvent{Kind: KindStatusUpdate, TaskID: task.ID, Status: &TaskStatus{State: StateWorking, Message: &msg, Timestamp: now()}}) {
			return domain.WorkerFailure(task, "", domain.ErrWorkerTransport, "client went away")
		}
	}

	res := domain.WorkerFailure(task, "", domain.ErrWorkerTransport, "executor ended without a result")
	for _, ev := range FinalEvents(task.ID, res) {
		emit(ev)
	}
	return res
}

// TaskFromResult converts a worker result into the message/send reply.
func TaskFromResult(res domain.WorkerResult) Task {
	t := Task{Kind: "task", ID: res.TaskID}
	if res.Succeeded() {
		t.Status = TaskStatus{State: StateCompleted, Timestamp: now()}
		t.Artifacts = []Artifact{{ArtifactID: ulid.Make().String(), Name: "result", Parts: []Part{TextPart(res.Payload)}}}
		return t
	}
	msg := NewTextMessage(ulid.Make().String(), res.TaskID, RoleAgent, res.ErrorDetail)
	t.Status = TaskStatus{State: StateFailed, Message: &msg, Timestamp: now()}
	return t
}

// FinalEvents returns the closing stream events for res: an artifact update
// and a final completed status, or a single final failed status.
func FinalEvents(taskID string, res domain.WorkerResult) []StreamEvent {
	t := TaskFromResult(res)
	var out []StreamEvent
	for i := range t.Artifacts {
		out = append(out, StreamEvent{Kind: KindArtifactUpdate, TaskID: taskID, Artifact: &t.Artifacts[i]})
	}
	return append(out, StreamEvent{Kind: KindStatusUpdate, TaskID: taskID, Status: &t.Status, Final: true})
}

func finalResult(task domain.Task, seq iter.Seq[domain.Chunk]) domain.WorkerResult {
	for chunk := range seq {
		if chunk.Final && chunk.Result != nil {
			return *chunk.Result
		}
	}
	return domain.WorkerFailure(task, "", domain.ErrWorkerTransport, "executor ended without a result")
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
