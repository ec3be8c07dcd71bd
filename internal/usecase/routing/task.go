package routing

import (
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"switchboard/internal/domain"
)

// NewTask wraps a raw query into a Task with a fresh ULID and the current time.
func NewTask(content string) domain.Task {
	now := time.Now()
	return domain.Task{
		ID:        generateULID(now),
		Content:   content,
		CreatedAt: now,
	}
}

// generateULID uses the package-level monotonic entropy source, which is safe
// for concurrent use, so tasks created in the same millisecond stay unique.
func generateULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
