package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	QueueName = "engagement-queue"
	JobName   = "check-routines"
)

var errNoSchedule = errors.New("engagement schedule is empty")

type RepeatableQueue interface {
	ClearRepeatable(ctx context.Context) error
	AddRepeatable(ctx context.Context, name, spec string) error
}

// Scheduler registers the recurring check-routines trigger.
type Scheduler struct {
	queue RepeatableQueue
	spec  string
}

func NewScheduler(queue RepeatableQueue, spec string) *Scheduler {
	return &Scheduler{queue: queue, spec: spec}
}

// Init drops every previously registered trigger, then registers one.
func (s *Scheduler) Init(ctx context.Context) error {
	if s.spec == "" {
		return errNoSchedule
	}
	if err := s.queue.ClearRepeatable(ctx); err != nil {
		return fmt.Errorf("clearing schedules: %w", err)
	}
	if err := s.queue.AddRepeatable(ctx, JobName, s.spec); err != nil {
		return fmt.Errorf("scheduling %s: %w", JobName, err)
	}
	slog.Info("engagement schedule registered", "job", JobName, "spec", s.spec)
	return nil
}
