package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// Dispatcher receives a query, asks the Classifier for a single target,
// invokes that worker's client once and returns one DispatchResult. It never
// fans out and never falls back to a second worker.
type Dispatcher struct {
	registry   *Registry
	classifier Classifier
	bus        domain.EventBus
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[string]WorkerClient
}

// NewDispatcher creates a Dispatcher. bus may be nil.
func NewDispatcher(registry *Registry, classifier Classifier, bus domain.EventBus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = discardLogger()
	}
	return &Dispatcher{
		registry:   registry,
		classifier: classifier,
		bus:        bus,
		logger:     logger,
		clients:    make(map[string]WorkerClient),
	}
}

// BindClient associates a client with a registered worker ID.
func (d *Dispatcher) BindClient(workerID string, client WorkerClient) error {
	if !d.registry.Has(workerID) {
		return domain.NewDomainError("Dispatcher.BindClient", domain.ErrUnknownWorker, workerID)
	}
	d.mu.Lock()
	d.clients[workerID] = client
	d.mu.Unlock()
	return nil
}

// Registry returns the dispatcher's worker registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) client(workerID string) (WorkerClient, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[workerID]
	return c, ok
}

// lifecycle tracks one task through the dispatcher's state machine.
type lifecycle struct {
	task  domain.Task
	state domain.TaskState
}

func (l *lifecycle) advance(to domain.TaskState) {
	if !l.state.CanTransition(to) {
		panic(fmt.Sprintf("routing: illegal task transition %s -> %s", l.state, to))
	}
	l.state = to
}

// Handle dispatches rawQuery and returns its unified result.
func (d *Dispatcher) Handle(ctx context.Context, rawQuery string) domain.DispatchResult {
	var final domain.DispatchResult
	d.run(ctx, rawQuery, false, func(u domain.DispatchUpdate) bool {
		if u.Result != nil {
			final = *u.Result
		}
		return true
	})
	return final
}

// HandleStream dispatches rawQuery and yields partial updates followed by
// exactly one final update carrying the DispatchResult. Each range over the
// returned sequence performs a fresh dispatch. Stopping the range early
// cancels the in-flight worker call.
func (d *Dispatcher) HandleStream(ctx context.Context, rawQuery string) iter.Seq[domain.DispatchUpdate] {
	return func(yield func(domain.DispatchUpdate) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		d.run(ctx, rawQuery, true, yield)
	}
}

func (d *Dispatcher) run(ctx context.Context, rawQuery string, stream bool, yield func(domain.DispatchUpdate) bool) {
	start := time.Now()
	lc := &lifecycle{task: NewTask(rawQuery), state: domain.TaskCreated}
	task := lc.task

	ctx, span := tracer.StartSpan(ctx, "dispatch.handle",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
			tracer.IntAttr("task.content_length", len(task.Content)),
		),
	)
	defer span.End()

	d.publish(ctx, domain.EventDispatchStarted, task.ID, domain.DispatchEventPayload{})

	// settle records the outcome: span status, log line and terminal event.
	settle := func(res domain.DispatchResult) {
		elapsed := time.Since(start)
		if res.Succeeded() {
			tracer.SetOK(span)
			d.logger.Info("dispatch completed", "task_id", task.ID, "worker_id", res.TargetWorkerID, "duration", elapsed)
			d.publish(ctx, domain.EventDispatchCompleted, task.ID, domain.DispatchEventPayload{
				WorkerID: res.TargetWorkerID, Query: task.Content, Status: res.Status, DurationMs: elapsed.Milliseconds(),
			})
		} else {
			tracer.RecordError(span, fmt.Errorf("%s: %s", res.Error, res.ErrorDetail))
			d.logger.Warn("dispatch failed", "task_id", task.ID, "worker_id", res.TargetWorkerID,
				"error", string(res.Error), "detail", res.ErrorDetail, "duration", elapsed)
			d.publish(ctx, domain.EventDispatchFailed, task.ID, domain.DispatchEventPayload{
				WorkerID: res.TargetWorkerID, Query: task.Content, Status: res.Status, Error: res.Error,
				Detail: res.ErrorDetail, DurationMs: elapsed.Milliseconds(),
			})
		}
	}
	finish := func(res domain.DispatchResult) {
		settle(res)
		yield(domain.DispatchUpdate{TaskID: task.ID, WorkerID: res.TargetWorkerID, Result: &res})
	}
	// abandon settles a task whose consumer stopped ranging. Nothing more is
	// yielded.
	abandon := func(workerID string) {
		lc.advance(domain.TaskWorkerFailed)
		wr := domain.WorkerFailure(task, workerID, domain.ErrWorkerTransport, abandonedDetail)
		settle(domain.DispatchFromWorker(wr))
	}

	lc.advance(domain.TaskClassifying)
	desc, client, decision, err := d.route(ctx, task)
	if err != nil {
		lc.advance(domain.TaskClassificationFailed)
		finish(domain.DispatchFailure(task.ID, decision.TargetWorkerID, err))
		return
	}

	lc.advance(domain.TaskDispatching)
	span.SetAttributes(tracer.StringAttr("worker.id", desc.ID))
	d.publish(ctx, domain.EventDispatchRouted, task.ID, domain.DispatchEventPayload{
		WorkerID: desc.ID, Rationale: decision.Rationale,
	})

	var wr domain.WorkerResult
	sc, streaming := client.(StreamingWorkerClient)
	if stream {
		if !yield(domain.DispatchUpdate{TaskID: task.ID, WorkerID: desc.ID, Content: fmt.Sprintf("Asking %s…", desc.Name())}) {
			abandon(desc.ID)
			return
		}
	}
	if stream && streaming {
		wr, err = d.relay(ctx, task, desc.ID, sc, yield)
		if err != nil {
			abandon(desc.ID)
			return
		}
	} else {
		wr = client.Invoke(ctx, task)
	}

	// The mapping is 1:1, but the envelope always names this task and target.
	wr.TaskID, wr.WorkerID = task.ID, desc.ID
	res := domain.DispatchFromWorker(wr)
	if res.Succeeded() {
		lc.advance(domain.TaskSucceeded)
	} else {
		lc.advance(domain.TaskWorkerFailed)
	}
	finish(res)
}

var errConsumerGone = fmt.Errorf("stream consumer stopped")

// abandonedDetail is the failure detail of a streamed dispatch whose consumer
// stopped before the final result.
const abandonedDetail = "cancelled: stream consumer stopped"

// relay forwards partial chunks from a streaming client and returns the final
// worker result.
func (d *Dispatcher) relay(ctx context.Context, task domain.Task, workerID string, sc StreamingWorkerClient, yield func(domain.DispatchUpdate) bool) (domain.WorkerResult, error) {
	for chunk := range sc.Stream(ctx, task) {
		if chunk.Final && chunk.Result != nil {
			return *chunk.Result, nil
		}
		if chunk.Content == "" {
			continue
		}
		d.publish(ctx, domain.EventDispatchChunk, task.ID, domain.DispatchEventPayload{WorkerID: workerID, Content: chunk.Content})
		if !yield(domain.DispatchUpdate{TaskID: task.ID, WorkerID: workerID, Content: chunk.Content}) {
			return domain.WorkerResult{}, errConsumerGone
		}
	}
	return domain.WorkerFailure(task, workerID, domain.ErrWorkerTransport, "stream ended without a result"), nil
}

// route classifies the task and resolves the chosen worker and its client.
// The returned decision is populated as far as routing got, so a lookup
// failure still reports the classifier's target.
func (d *Dispatcher) route(ctx context.Context, task domain.Task) (domain.WorkerDescriptor, WorkerClient, domain.RoutingDecision, error) {
	if strings.TrimSpace(task.Content) == "" {
		return domain.WorkerDescriptor{}, nil, domain.RoutingDecision{TaskID: task.ID},
			domain.NewDomainError("Dispatcher.Handle", domain.ErrInvalidInput, "empty query")
	}

	candidates := slices.Collect(d.registry.All())
	decision, err := d.classifier.Classify(ctx, task, candidates)
	if err != nil {
		return domain.WorkerDescriptor{}, nil, domain.RoutingDecision{TaskID: task.ID}, err
	}
	if decision.TaskID == "" {
		decision.TaskID = task.ID
	}

	desc, err := d.registry.Lookup(decision.TargetWorkerID)
	if err != nil {
		d.logger.Error("classifier chose unregistered worker", "task_id", task.ID, "worker_id", decision.TargetWorkerID)
		return domain.WorkerDescriptor{}, nil, decision, err
	}
	client, ok := d.client(desc.ID)
	if !ok {
		d.logger.Error("worker has no bound client", "task_id", task.ID, "worker_id", desc.ID)
		return domain.WorkerDescriptor{}, nil, decision,
			domain.NewDomainError("Dispatcher.Handle", domain.ErrUnknownWorker, "no client bound for "+desc.ID)
	}
	return desc, client, decision, nil
}

func (d *Dispatcher) publish(ctx context.Context, typ domain.EventType, taskID string, payload domain.DispatchEventPayload) {
	if d.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("dispatcher: failed to marshal event", "error", err)
		return
	}
	d.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now(),
		TaskID:    taskID,
		Payload:   data,
	})
}
