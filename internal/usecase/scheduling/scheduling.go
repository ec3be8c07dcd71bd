// Package scheduling runs named recurring jobs, such as peer re-discovery,
// on cron expressions or fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 5 * time.Minute

// Job is a named recurring function.
type Job struct {
	Name     string
	Schedule string // cron expression "*/10 * * * *" OR duration "10m"
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their schedules. A run that is still in progress
// when the next one is due causes that next run to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add schedules job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no function", job.Name)
	}
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.Name)
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	s.entries[job.Name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			s.logger.Debug("scheduler stopped, skipping job", "job", job.Name)
			return
		}

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(jobCtx); err != nil {
			s.logger.Warn("scheduled job failed", "job", job.Name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("scheduled job completed", "job", job.Name, "duration", time.Since(start))
	}))

	s.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Remove unschedules a job by name.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", name)
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	return nil
}

// NextRun returns the next scheduled run of a job. It is only meaningful
// after Start.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins running the scheduler. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// ParseSchedule parses a cron expression (five fields or a descriptor such
// as "@hourly") or, failing that, a positive duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if sched, err := cron.ParseStandard(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
