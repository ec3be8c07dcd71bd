// Package console implements an interactive Bubble Tea client for a running
// dispatcher. Each query is streamed over the dispatcher's HTTP API and the
// routed worker's answer is rendered as markdown.
package console

import "switchboard/internal/domain"

// streamItem is one element of a dispatch stream handed from the reader
// goroutine to the model.
type streamItem struct {
	update domain.DispatchUpdate
	err    error
}

// updateMsg carries one streamed update. Gen identifies the request so
// updates from a cancelled request can be discarded.
type updateMsg struct {
	update domain.DispatchUpdate
	next   <-chan streamItem
	gen    uint64
}

// streamErrMsg reports a transport error that ended a stream.
type streamErrMsg struct {
	err error
	gen uint64
}

// streamClosedMsg reports that a stream ended without a final update.
type streamClosedMsg struct {
	gen uint64
}

// workersMsg carries the answer to /workers.
type workersMsg struct {
	workers []domain.WorkerDescriptor
	err     error
}
