package routing

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/internal/domain"
)

// --- Test helpers ---

type spyClient struct {
	calls   atomic.Int32
	payload string
	err     error
	detail  string
	delay   time.Duration
}

func (s *spyClient) Invoke(ctx context.Context, task domain.Task) domain.WorkerResult {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.WorkerFailure(task, "", domain.ErrWorkerTimeout, "timeout")
		}
	}
	if s.err != nil {
		return domain.WorkerFailure(task, "", s.err, s.detail)
	}
	return domain.WorkerSuccess(task, "", s.payload)
}

type streamingSpy struct {
	spyClient
	parts []string
}

func (s *streamingSpy) Stream(_ context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		s.calls.Add(1)
		for _, p := range s.parts {
			if !yield(domain.Chunk{TaskID: task.ID, Content: p}) {
				return
			}
		}
		res := domain.WorkerSuccess(task, "", s.payload)
		yield(domain.Chunk{TaskID: task.ID, Final: true, Result: &res})
	}
}

type mockLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	lastReq domain.ChatRequest
	calls   int
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: m.reply}}, nil
}

func (m *mockLLM) Name() string { return "mock" }

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(_ domain.EventType, _ domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(_ domain.EventHandler) func()                  { return func() {} }
func (b *recordingBus) Close()                                                     {}

func (b *recordingBus) Last() domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return domain.Event{}
	}
	return b.events[len(b.events)-1]
}

func (b *recordingBus) Types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func greeterDescriptor() domain.WorkerDescriptor {
	return domain.NewWorkerDescriptor("greeter", "Greeter", "Answers greetings", []string{"greeting"})
}

func clockDescriptor() domain.WorkerDescriptor {
	return domain.NewWorkerDescriptor("clock", "Clock", "Tells the time", []string{"time", "clock"})
}
