// Package worker is the dispatcher-side JSON-RPC client for remote workers.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/resilience"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase/routing"
)

// DefaultTimeout bounds one invocation when the descriptor sets none.
const DefaultTimeout = 30 * time.Second

const maxResponseBody = 4 * 1024 * 1024

// Client sends tasks to one worker endpoint. It implements
// routing.StreamingWorkerClient.
type Client struct {
	workerID string
	endpoint string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	logger   *slog.Logger
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBreaker guards the worker with a circuit breaker.
func WithBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if !cfg.Enabled {
			c.breaker = nil
			return
		}
		c.breaker = resilience.NewBreaker[*http.Response]("worker:"+c.workerID, cfg, breakerSuccess, c.logger)
	}
}

// breakerSuccess does not count caller cancellation against the worker.
func breakerSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// New creates a client for the worker described by desc. Options are applied
// in order, so WithLogger should precede WithBreaker.
func New(desc domain.WorkerDescriptor, opts ...Option) *Client {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		workerID: desc.ID,
		endpoint: desc.Endpoint,
		timeout:  timeout,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		// The per-call context deadline bounds the whole exchange.
		c.http = &http.Client{Transport: resilience.NewPooledTransport(5*time.Second, 0, config.PoolConfig{})}
	}
	return c
}

// WorkerID returns the ID of the worker this client is bound to.
func (c *Client) WorkerID() string { return c.workerID }

// Invoke sends task with message/send and waits for the result. Every
// failure is returned as a Failure WorkerResult.
func (c *Client) Invoke(ctx context.Context, task domain.Task) domain.WorkerResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.startSpan(ctx, task, a2a.MethodSend)
	defer span.End()

	res := c.invoke(ctx, task)
	c.finish(span, task, res)
	return res
}

func (c *Client) invoke(ctx context.Context, task domain.Task) domain.WorkerResult {
	httpResp, err := c.call(ctx, task, a2a.MethodSend, "application/json")
	if err != nil {
		return c.failure(ctx, task, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return c.failure(ctx, task, err)
	}

	var resp a2a.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return c.failure(ctx, task, fmt.Errorf("malformed response: %w", err))
	}
	if resp.Error != nil {
		return c.failure(ctx, task, resp.Error)
	}

	var t a2a.Task
	if err := json.Unmarshal(resp.Result, &t); err != nil {
		return c.failure(ctx, task, fmt.Errorf("malformed task: %w", err))
	}
	return c.fromState(task, t.Status.State, t.Text(), t.Status.Text())
}

// Stream sends task with message/stream. Progress updates become partial
// chunks; the sequence ends with one Final chunk. Each range re-issues the
// call, and stopping early aborts it.
func (c *Client) Stream(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		ctx, span := c.startSpan(ctx, task, a2a.MethodStream)
		defer span.End()

		res, ok := c.stream(ctx, task, yield)
		if !ok {
			return
		}
		c.finish(span, task, res)
		yield(domain.Chunk{TaskID: task.ID, WorkerID: c.workerID, Final: true, Result: &res})
	}
}

// stream relays partial chunks and returns the final result. ok is false
// when the consumer stopped ranging.
func (c *Client) stream(ctx context.Context, task domain.Task, yield func(domain.Chunk) bool) (domain.WorkerResult, bool) {
	httpResp, err := c.call(ctx, task, a2a.MethodStream, "text/event-stream")
	if err != nil {
		return c.failure(ctx, task, err), true
	}
	defer httpResp.Body.Close()

	if !strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		// The worker answered with a plain JSON-RPC error instead of a stream.
		var resp a2a.Response
		if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBody)).Decode(&resp); err == nil && resp.Error != nil {
			return c.failure(ctx, task, resp.Error), true
		}
		return c.failure(ctx, task, fmt.Errorf("unexpected content type %q", httpResp.Header.Get("Content-Type"))), true
	}

	var artifacts strings.Builder
	for resp, err := range a2a.ReadEvents(httpResp.Body) {
		if err != nil {
			return c.failure(ctx, task, err), true
		}
		if resp.Error != nil {
			return c.failure(ctx, task, resp.Error), true
		}
		var ev a2a.StreamEvent
		if err := json.Unmarshal(resp.Result, &ev); err != nil {
			return c.failure(ctx, task, fmt.Errorf("malformed event: %w", err)), true
		}

		switch ev.Kind {
		case a2a.KindArtifactUpdate:
			if ev.Artifact != nil {
				for _, p := range ev.Artifact.Parts {
					artifacts.WriteString(p.Text)
				}
			}
		case a2a.KindStatusUpdate:
			if ev.Status == nil {
				continue
			}
			if ev.Final || ev.Status.State.Terminal() {
				return c.fromState(task, ev.Status.State, artifacts.String(), ev.Status.Text()), true
			}
			if text := ev.Status.Text(); text != "" {
				if !yield(domain.Chunk{TaskID: task.ID, WorkerID: c.workerID, Content: text}) {
					return domain.WorkerResult{}, false
				}
			}
		}
	}
	return c.failure(ctx, task, errors.New("stream ended without a final status")), true
}

// call posts a JSON-RPC request through the breaker. Non-2xx responses are
// errors.
func (c *Client) call(ctx context.Context, task domain.Task, method, accept string) (*http.Response, error) {
	params := a2a.SendParams{Message: a2a.NewTextMessage(ulid.Make().String(), task.ID, a2a.RoleUser, task.Content)}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	body, err := json.Marshal(a2a.Request{JSONRPC: a2a.Version, ID: json.RawMessage(id), Method: method, Params: rawParams})
	if err != nil {
		return nil, err
	}

	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
		}
		return resp, nil
	}

	if c.breaker == nil {
		return do()
	}
	return c.breaker.Execute(do)
}

// fromState maps a terminal worker state to a WorkerResult. input-required
// is returned as a success whose payload is the worker's question.
func (c *Client) fromState(task domain.Task, state a2a.TaskState, payload, statusText string) domain.WorkerResult {
	switch state {
	case a2a.StateCompleted, a2a.StateInputRequired:
		if payload == "" {
			payload = statusText
		}
		return domain.WorkerSuccess(task, c.workerID, payload)
	default:
		detail := statusText
		if detail == "" {
			detail = "worker reported state " + string(state)
		}
		return domain.WorkerFailure(task, c.workerID, domain.ErrWorkerTransport, detail)
	}
}

// failure folds err into a Failure result. A deadline becomes a timeout;
// everything else is a transport failure.
func (c *Client) failure(ctx context.Context, task domain.Task, err error) domain.WorkerResult {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return domain.WorkerFailure(task, c.workerID, domain.ErrWorkerTimeout, "timeout")
	case resilience.IsOpen(err):
		return domain.WorkerFailure(task, c.workerID, domain.ErrWorkerTransport, "circuit open: "+err.Error())
	default:
		return domain.WorkerFailure(task, c.workerID, fmt.Errorf("%w: %w", domain.ErrWorkerTransport, err), err.Error())
	}
}

func (c *Client) startSpan(ctx context.Context, task domain.Task, method string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "worker.invoke",
		trace.WithAttributes(
			tracer.StringAttr("worker.id", c.workerID),
			tracer.StringAttr("task.id", task.ID),
			tracer.StringAttr("rpc.method", method),
		),
	)
}

func (c *Client) finish(span trace.Span, task domain.Task, res domain.WorkerResult) {
	if res.Succeeded() {
		tracer.SetOK(span)
		c.logger.Debug("worker call succeeded", "worker_id", c.workerID, "task_id", task.ID)
		return
	}
	tracer.RecordError(span, errors.New(res.ErrorDetail))
	c.logger.Warn("worker call failed", "worker_id", c.workerID, "task_id", task.ID,
		"kind", string(res.ErrorKind), "detail", res.ErrorDetail)
}

type invokeOnly struct{ c *Client }

func (u invokeOnly) Invoke(ctx context.Context, task domain.Task) domain.WorkerResult {
	return u.c.Invoke(ctx, task)
}

// InvokeOnly hides the client's streaming support, for workers that do not
// advertise it.
func InvokeOnly(c *Client) routing.WorkerClient { return invokeOnly{c} }

var _ routing.StreamingWorkerClient = (*Client)(nil)
