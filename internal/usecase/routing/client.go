package routing

import (
	"context"
	"iter"

	"switchboard/internal/domain"
)

// WorkerClient sends a task to one worker. Implementations never return Go
// errors for transport problems: every failure is folded into a Failure
// WorkerResult, and every call is bounded by a timeout.
type WorkerClient interface {
	Invoke(ctx context.Context, task domain.Task) domain.WorkerResult
}

// StreamingWorkerClient is a WorkerClient that can also surface partial output.
// The sequence is lazy and finite: it ends with exactly one chunk whose Final
// flag is set and whose Result holds the outcome. Ranging again re-issues the
// call.
type StreamingWorkerClient interface {
	WorkerClient
	Stream(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk]
}

// Collect drains a chunk sequence and returns the final result. Partial
// chunks are ignored. A sequence that ends without a final chunk yields a
// transport failure.
func Collect(task domain.Task, workerID string, seq iter.Seq[domain.Chunk]) domain.WorkerResult {
	for chunk := range seq {
		if chunk.Final && chunk.Result != nil {
			return *chunk.Result
		}
	}
	return domain.WorkerFailure(task, workerID, domain.ErrWorkerTransport, "stream ended without a result")
}
