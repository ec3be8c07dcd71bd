package history

import (
	"context"
	"encoding/json"
	"log/slog"

	"switchboard/internal/domain"
)

// Record subscribes to finished-dispatch events on bus and appends each one
// to store. The returned function unsubscribes.
func Record(bus domain.EventBus, store domain.HistoryStore, logger *slog.Logger) func() {
	handler := func(ctx context.Context, ev domain.Event) {
		var p domain.DispatchEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Warn("history: malformed dispatch event", "task_id", ev.TaskID, "error", err)
			return
		}
		rec := domain.DispatchRecord{
			TaskID:     ev.TaskID,
			Query:      p.Query,
			WorkerID:   p.WorkerID,
			Status:     p.Status,
			Error:      p.Error,
			Detail:     p.Detail,
			DurationMs: p.DurationMs,
			FinishedAt: ev.Timestamp,
		}
		if err := store.Append(ctx, rec); err != nil {
			logger.Warn("history: append failed", "task_id", ev.TaskID, "error", err)
		}
	}
	unsubCompleted := bus.Subscribe(domain.EventDispatchCompleted, handler)
	unsubFailed := bus.Subscribe(domain.EventDispatchFailed, handler)
	return func() {
		unsubCompleted()
		unsubFailed()
	}
}
