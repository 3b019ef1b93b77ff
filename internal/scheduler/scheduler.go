// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Resyncer rebroadcasts the state of every active session and reports how
// many it reached.
type Resyncer interface {
	Resync(ctx context.Context) int
}

// Scheduler fires the anti-entropy resync on a cron schedule, so peers that
// missed an update converge without waiting for the next edit.
type Scheduler struct {
	target Resyncer

	mu       sync.Mutex
	schedule string
	cron     *cron.Cron
	ctx      context.Context

	fires atomic.Int64
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses. An empty schedule is valid and
// disables the job.
func Validate(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a Scheduler that resyncs target on schedule.
func New(schedule string, target Resyncer) *Scheduler {
	return &Scheduler{
		target:   target,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the resync job and starts the cron ticker. An empty
// schedule leaves the scheduler idle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if s.schedule == "" {
		slog.Info("resync disabled")
		return nil
	}
	schedule := s.schedule
	ctx := s.ctx
	_, err := s.cron.AddFunc(schedule, func() {
		s.fires.Add(1)
		n := s.target.Resync(ctx)
		slog.Debug("resync fired", "schedule", schedule, "sessions", n)
	})
	if err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	slog.Info("scheduled resync", "schedule", schedule)
	return nil
}

// Reload stops the existing cron, creates a new one with schedule, and
// starts it again.
func (s *Scheduler) Reload(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.schedule = schedule
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	return s.startLocked()
}

// Stop stops the cron ticker and waits for a running resync to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Fires returns how many times the resync job ran.
func (s *Scheduler) Fires() int64 {
	return s.fires.Load()
}
