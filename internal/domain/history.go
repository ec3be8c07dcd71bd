package domain

import (
	"context"
	"time"
)

// DispatchRecord is one finished dispatch as kept in the history.
type DispatchRecord struct {
	TaskID     string    `json:"taskId"`
	Query      string    `json:"query"`
	WorkerID   string    `json:"workerId,omitempty"`
	Status     Status    `json:"status"`
	Error      ErrorKind `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// HistoryStore persists finished dispatches.
type HistoryStore interface {
	Append(ctx context.Context, rec DispatchRecord) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]DispatchRecord, error)
}
