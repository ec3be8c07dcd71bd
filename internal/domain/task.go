package domain

import "time"

// Task is one unit of routable work derived from a user query.
type Task struct {
	ID        string    `json:"taskId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoutingDecision is a classifier's choice of a single worker for a task.
type RoutingDecision struct {
	TaskID         string   `json:"taskId"`
	TargetWorkerID string   `json:"targetWorkerId"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Rationale      string   `json:"rationale,omitempty"`
}

// Status is the outcome of a worker invocation or a dispatch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// WorkerResult is produced by a worker client for one invocation.
type WorkerResult struct {
	TaskID      string    `json:"taskId"`
	WorkerID    string    `json:"workerId"`
	Status      Status    `json:"status"`
	Payload     string    `json:"payload,omitempty"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
}

// Succeeded reports whether the invocation completed successfully.
func (r WorkerResult) Succeeded() bool { return r.Status == StatusSuccess }

// WorkerSuccess builds a successful WorkerResult.
func WorkerSuccess(task Task, workerID, payload string) WorkerResult {
	return WorkerResult{TaskID: task.ID, WorkerID: workerID, Status: StatusSuccess, Payload: payload}
}

// WorkerFailure builds a failed WorkerResult. The kind is derived from err;
// detail defaults to err's message.
func WorkerFailure(task Task, workerID string, err error, detail string) WorkerResult {
	if detail == "" && err != nil {
		detail = err.Error()
	}
	return WorkerResult{
		TaskID:      task.ID,
		WorkerID:    workerID,
		Status:      StatusFailure,
		ErrorDetail: detail,
		ErrorKind:   ErrorKindOf(err),
	}
}

// DispatchResult is the dispatcher's unified output for one query.
type DispatchResult struct {
	TaskID         string    `json:"taskId"`
	TargetWorkerID string    `json:"targetWorkerId,omitempty"`
	Status         Status    `json:"status"`
	Payload        string    `json:"payload,omitempty"`
	Error          ErrorKind `json:"error,omitempty"`
	ErrorDetail    string    `json:"detail,omitempty"`
}

// Succeeded reports whether the dispatch completed successfully.
func (r DispatchResult) Succeeded() bool { return r.Status == StatusSuccess }

// DispatchFromWorker maps a WorkerResult 1:1 into a DispatchResult.
func DispatchFromWorker(r WorkerResult) DispatchResult {
	out := DispatchResult{
		TaskID:         r.TaskID,
		TargetWorkerID: r.WorkerID,
		Status:         r.Status,
		Payload:        r.Payload,
	}
	if r.Status == StatusFailure {
		out.Error = r.ErrorKind
		if out.Error == KindNone {
			out.Error = KindWorkerTransport
		}
		out.ErrorDetail = r.ErrorDetail
	}
	return out
}

// DispatchFailure builds a failed DispatchResult that never reached a worker
// (targetWorkerID may be empty) or whose worker could not be resolved.
func DispatchFailure(taskID, targetWorkerID string, err error) DispatchResult {
	out := DispatchResult{
		TaskID:         taskID,
		TargetWorkerID: targetWorkerID,
		Status:         StatusFailure,
		Error:          ErrorKindOf(err),
	}
	if err != nil {
		out.ErrorDetail = err.Error()
	}
	return out
}

// Chunk is one incremental update from a streaming invocation. The last chunk
// of a stream has Final set and carries the WorkerResult.
type Chunk struct {
	TaskID   string        `json:"taskId"`
	WorkerID string        `json:"workerId,omitempty"`
	Content  string        `json:"content,omitempty"`
	Final    bool          `json:"final,omitempty"`
	Result   *WorkerResult `json:"result,omitempty"`
}

// TaskState is the lifecycle state of a single task inside the dispatcher.
type TaskState string

const (
	TaskCreated              TaskState = "created"
	TaskClassifying          TaskState = "classifying"
	TaskDispatching          TaskState = "dispatching"
	TaskSucceeded            TaskState = "succeeded"
	TaskWorkerFailed         TaskState = "worker_failed"
	TaskClassificationFailed TaskState = "classification_failed"
)

var taskTransitions = map[TaskState][]TaskState{
	TaskCreated:     {TaskClassifying},
	TaskClassifying: {TaskDispatching, TaskClassificationFailed},
	TaskDispatching: {TaskSucceeded, TaskWorkerFailed},
}

// CanTransition reports whether moving from one state to another is allowed.
// Terminal states have no outgoing edges.
func (s TaskState) CanTransition(to TaskState) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions.
func (s TaskState) Terminal() bool {
	return len(taskTransitions[s]) == 0
}

// DispatchUpdate is one item of a streamed dispatch. Partial updates carry
// Content; the last update carries the final Result and nothing follows it.
type DispatchUpdate struct {
	TaskID   string          `json:"taskId"`
	WorkerID string          `json:"workerId,omitempty"`
	Content  string          `json:"content,omitempty"`
	Result   *DispatchResult `json:"result,omitempty"`
}

// Final reports whether this is the terminating update.
func (u DispatchUpdate) Final() bool { return u.Result != nil }
