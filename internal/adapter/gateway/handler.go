package gateway

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"switchboard/internal/domain"
)

// Dispatcher is the routing surface the gateway drives.
type Dispatcher interface {
	Handle(ctx context.Context, rawQuery string) domain.DispatchResult
	HandleStream(ctx context.Context, rawQuery string) iter.Seq[domain.DispatchUpdate]
}

// WorkerLister lists registered workers.
type WorkerLister interface {
	List() []domain.WorkerDescriptor
}

// PeerSyncer re-runs peer discovery on demand.
type PeerSyncer interface {
	Sync(ctx context.Context) ([]string, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Dispatcher Dispatcher
	Workers    WorkerLister
	Peers      PeerSyncer // can be nil
	Bus        domain.EventBus
	Logger     *slog.Logger
}

// UpdateMethod names the event frames that carry a streamed dispatch to the
// client that started it.
const UpdateMethod = "dispatch.update"

type pushKey struct{}

// withPush lets handlers send extra frames to the calling connection.
func withPush(ctx context.Context, push func(Frame) bool) context.Context {
	return context.WithValue(ctx, pushKey{}, push)
}

func pushFrom(ctx context.Context) (func(Frame) bool, bool) {
	p, ok := ctx.Value(pushKey{}).(func(Frame) bool)
	return p, ok
}

// requireRole rejects callers without role.
func requireRole(role string, handler RPCHandler) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if !client.HasRole(role) {
			return nil, domain.ErrForbidden
		}
		return handler(ctx, client, payload)
	}
}

// RegisterDefaultHandlers registers the built-in RPC methods.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("dispatch.send", dispatchSendHandler(deps))
	s.RegisterHandler("dispatch.stream", dispatchStreamHandler(deps))
	s.RegisterHandler("workers.list", workersListHandler(deps))
	if deps.Peers != nil {
		s.RegisterHandler("workers.sync", requireRole(RoleAdmin, workersSyncHandler(deps)))
	}
}

// RegisterRESTHandlers registers the status and metrics endpoints. Both
// require the same token as the WebSocket endpoint.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, version string) *Metrics {
	metrics := NewMetrics(time.Now())
	if deps.Bus != nil {
		metrics.Observe(deps.Bus)
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.Authenticate(tokenFromRequest(r)); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("GET /api/v1/status", authMiddleware(statusHandler(deps, s, metrics, version)))
	s.RegisterHTTPRoute("GET /metrics", authMiddleware(metricsHandler(deps, metrics)))
	return metrics
}

// --- dispatch ---

type dispatchRequest struct {
	Query string `json:"query"`
}

func decodeDispatch(payload json.RawMessage) (dispatchRequest, error) {
	var req dispatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, domain.NewDomainError("gateway.dispatch", domain.ErrRPCInvalidPayload, err.Error())
	}
	return req, nil
}

func dispatchSendHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decodeDispatch(payload)
		if err != nil {
			return nil, err
		}
		res := deps.Dispatcher.Handle(ctx, req.Query)
		deps.Logger.Debug("gateway dispatch", "client", client.Name, "task_id", res.TaskID, "status", string(res.Status))
		return json.Marshal(res)
	}
}

type dispatchStreamResponse struct {
	Streaming bool   `json:"streaming"`
	TaskID    string `json:"task_id"`
}

// dispatchStreamHandler answers with the task ID as soon as the dispatch
// starts; every update, the final one included, follows as a
// dispatch.update event frame on the same connection.
func dispatchStreamHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decodeDispatch(payload)
		if err != nil {
			return nil, err
		}
		push, ok := pushFrom(ctx)
		if !ok {
			return nil, domain.NewDomainError("gateway.dispatch.stream", domain.ErrRPCInvalidPayload, "streaming needs a connection")
		}

		next, stop := iter.Pull(deps.Dispatcher.HandleStream(ctx, req.Query))
		first, ok := next()
		if !ok {
			stop()
			return nil, domain.NewDomainError("gateway.dispatch.stream", domain.ErrWorkerTransport, "dispatch produced no updates")
		}

		go func() {
			defer stop()
			for u, ok := first, true; ok; u, ok = next() {
				data, err := json.Marshal(u)
				if err != nil {
					return
				}
				if !push(Frame{Type: FrameTypeEvent, Method: UpdateMethod, Payload: data}) {
					deps.Logger.Warn("gateway: client stopped reading dispatch stream", "task_id", u.TaskID)
					return
				}
				if u.Final() {
					return
				}
			}
		}()

		return json.Marshal(dispatchStreamResponse{Streaming: true, TaskID: first.TaskID})
	}
}

// --- workers ---

func workersListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Workers.List())
	}
}

type workersSyncResponse struct {
	Added  []string `json:"added"`
	Errors []string `json:"errors,omitempty"`
}

func workersSyncHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		added, err := deps.Peers.Sync(ctx)
		resp := workersSyncResponse{Added: added}
		if resp.Added == nil {
			resp.Added = []string{}
		}
		if err != nil {
			resp.Errors = strings.Split(err.Error(), "\n")
		}
		return json.Marshal(resp)
	}
}
