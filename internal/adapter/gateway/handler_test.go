package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"switchboard/internal/domain"
)

// --- handler test doubles ---

type fakeDispatcher struct {
	mu      sync.Mutex
	queries []string
	parts   []string
	result  domain.DispatchResult
}

func (f *fakeDispatcher) record(q string) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
}

func (f *fakeDispatcher) Handle(_ context.Context, q string) domain.DispatchResult {
	f.record(q)
	return f.result
}

func (f *fakeDispatcher) HandleStream(_ context.Context, q string) iter.Seq[domain.DispatchUpdate] {
	return func(yield func(domain.DispatchUpdate) bool) {
		f.record(q)
		for _, p := range f.parts {
			if !yield(domain.DispatchUpdate{TaskID: f.result.TaskID, WorkerID: f.result.TargetWorkerID, Content: p}) {
				return
			}
		}
		res := f.result
		yield(domain.DispatchUpdate{TaskID: res.TaskID, WorkerID: res.TargetWorkerID, Result: &res})
	}
}

type fakeWorkers []domain.WorkerDescriptor

func (f fakeWorkers) List() []domain.WorkerDescriptor { return f }

type fakePeers struct {
	added []string
	err   error
	calls int
}

func (f *fakePeers) Sync(context.Context) ([]string, error) {
	f.calls++
	return f.added, f.err
}

func newHandlerDeps() (HandlerDeps, *fakeDispatcher) {
	d := &fakeDispatcher{result: domain.DispatchResult{
		TaskID: "task-1", TargetWorkerID: "greeter", Status: domain.StatusSuccess, Payload: "Hello!",
	}}
	return HandlerDeps{
		Dispatcher: d,
		Workers: fakeWorkers{
			domain.NewWorkerDescriptor("greeter", "Greeter", "", []string{"greeting"}),
			domain.NewWorkerDescriptor("clock", "Clock", "", []string{"time"}),
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, d
}

var admin = &ClientInfo{Name: "ops", Roles: []string{RoleAdmin}}

func TestDispatchSendHandler(t *testing.T) {
	deps, d := newHandlerDeps()

	out, err := dispatchSendHandler(deps)(context.Background(), admin, json.RawMessage(`{"query":"hello"}`))
	require.NoError(t, err)

	var res domain.DispatchResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "greeter", res.TargetWorkerID)
	assert.Equal(t, "Hello!", res.Payload)
	assert.Equal(t, []string{"hello"}, d.queries)
}

func TestDispatchSendHandlerBadPayload(t *testing.T) {
	deps, d := newHandlerDeps()

	_, err := dispatchSendHandler(deps)(context.Background(), admin, json.RawMessage(`not json`))
	require.ErrorIs(t, err, domain.ErrRPCInvalidPayload)
	assert.Empty(t, d.queries)
}

func TestDispatchStreamHandlerPushesUpdates(t *testing.T) {
	deps, d := newHandlerDeps()
	d.parts = []string{"Asking Greeter…", "Hel", "lo!"}

	frames := make(chan Frame, 10)
	ctx := withPush(context.Background(), func(f Frame) bool {
		frames <- f
		return true
	})

	out, err := dispatchStreamHandler(deps)(ctx, admin, json.RawMessage(`{"query":"hello"}`))
	require.NoError(t, err)
	var ack dispatchStreamResponse
	require.NoError(t, json.Unmarshal(out, &ack))
	assert.True(t, ack.Streaming)
	assert.Equal(t, "task-1", ack.TaskID)

	var got []domain.DispatchUpdate
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case f := <-frames:
			assert.Equal(t, FrameTypeEvent, f.Type)
			assert.Equal(t, UpdateMethod, f.Method)
			var u domain.DispatchUpdate
			require.NoError(t, json.Unmarshal(f.Payload, &u))
			got = append(got, u)
		case <-timeout:
			t.Fatalf("got %d updates, want 4", len(got))
		}
	}
	assert.Equal(t, "Asking Greeter…", got[0].Content)
	assert.Equal(t, "lo!", got[2].Content)
	require.True(t, got[3].Final())
	assert.Equal(t, "Hello!", got[3].Result.Payload)
}

func TestDispatchStreamHandlerNeedsConnection(t *testing.T) {
	deps, _ := newHandlerDeps()
	_, err := dispatchStreamHandler(deps)(context.Background(), admin, json.RawMessage(`{"query":"hi"}`))
	require.Error(t, err)
}

func TestWorkersListHandler(t *testing.T) {
	deps, _ := newHandlerDeps()
	out, err := workersListHandler(deps)(context.Background(), admin, nil)
	require.NoError(t, err)

	var workers []domain.WorkerDescriptor
	require.NoError(t, json.Unmarshal(out, &workers))
	require.Len(t, workers, 2)
	assert.Equal(t, "clock", workers[1].ID)
}

func TestWorkersSyncHandler(t *testing.T) {
	deps, _ := newHandlerDeps()
	peers := &fakePeers{added: []string{"weather"}, err: errors.Join(errors.New("peer a: down"), errors.New("peer b: down"))}
	deps.Peers = peers

	h := requireRole(RoleAdmin, workersSyncHandler(deps))

	_, err := h(context.Background(), &ClientInfo{Name: "viewer", Roles: []string{"viewer"}}, nil)
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Zero(t, peers.calls)

	out, err := h(context.Background(), admin, nil)
	require.NoError(t, err)
	var resp workersSyncResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, []string{"weather"}, resp.Added)
	assert.Len(t, resp.Errors, 2)
}

func TestRegisterDefaultHandlersOverWebSocket(t *testing.T) {
	deps, d := newHandlerDeps()
	d.parts = []string{"Asking Greeter…"}
	srv := startTestServer(t, &testBus{}, func(s *Server) { RegisterDefaultHandlers(s, deps) })

	ws := dialWS(t, srv.BoundAddr(), "test-token")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, Frame{
		Type: FrameTypeRequest, ID: 7, Method: "dispatch.stream", Payload: json.RawMessage(`{"query":"hello"}`),
	}))

	var ack Frame
	var updates []domain.DispatchUpdate
	for ack.ID == 0 || len(updates) < 2 {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		switch {
		case f.Type == FrameTypeResponse:
			ack = f
		case f.Method == UpdateMethod:
			var u domain.DispatchUpdate
			require.NoError(t, json.Unmarshal(f.Payload, &u))
			updates = append(updates, u)
		}
	}
	assert.Equal(t, uint64(7), ack.ID)
	assert.Empty(t, ack.Error)
	assert.Equal(t, "Asking Greeter…", updates[0].Content)
	assert.True(t, updates[1].Final())

	// workers.sync is only registered when peers are configured
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameTypeRequest, ID: 8, Method: "workers.sync"}))
	var resp Frame
	for resp.ID != 8 {
		require.NoError(t, wsjson.Read(ctx, ws, &resp))
	}
	assert.Contains(t, resp.Error, "rpc method not found")

	ws.Close(websocket.StatusNormalClosure, "")
}
