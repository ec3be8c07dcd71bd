package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventDispatchStarted   EventType = "dispatch.started"
	EventDispatchRouted    EventType = "dispatch.routed"
	EventDispatchChunk     EventType = "dispatch.chunk"
	EventDispatchCompleted EventType = "dispatch.completed"
	EventDispatchFailed    EventType = "dispatch.failed"

	EventWorkerRegistered  EventType = "worker.registered"
	EventWorkerDiscovered  EventType = "worker.discovered"
	EventWorkerUnreachable EventType = "worker.unreachable"

	EventLLMCallCompleted EventType = "llm.call.completed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	// Origin names the cluster node that produced the event; empty for
	// events produced by this process.
	Origin string `json:"origin,omitempty"`
}

// DispatchEventPayload is the payload of dispatch lifecycle events.
type DispatchEventPayload struct {
	WorkerID   string    `json:"worker_id,omitempty"`
	Query      string    `json:"query,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Error      ErrorKind `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Rationale  string    `json:"rationale,omitempty"`
	Content    string    `json:"content,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// WorkerEventPayload is the payload of worker registration and discovery events.
type WorkerEventPayload struct {
	WorkerID string `json:"worker_id,omitempty"`
	Peer     string `json:"peer,omitempty"`
	Error    string `json:"error,omitempty"`
}
