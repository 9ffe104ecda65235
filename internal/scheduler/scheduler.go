// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package scheduler runs periodic maintenance tasks. Each task is its own
// suture service, so a failing or panicking task never stops its siblings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Errors returned by Add and Trigger.
var (
	ErrInvalidTask   = errors.New("scheduler: invalid task")
	ErrDuplicateTask = errors.New("scheduler: duplicate task name")
	ErrUnknownTask   = errors.New("scheduler: unknown task")
)

const defaultTaskTimeout = time.Minute

// Task is one named periodic job. Exactly one of Interval and Cron is set.
type Task struct {
	Name     string
	Interval time.Duration
	// Cron is a standard five-field expression.
	Cron    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler supervises a set of tasks.
type Scheduler struct {
	supervisor *suture.Supervisor

	mu    sync.Mutex
	tasks map[string]*taskService
}

// New creates an empty scheduler. logger receives suture events.
func New(logger *slog.Logger) *Scheduler {
	spec := suture.Spec{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	if logger != nil {
		spec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()
	}
	return &Scheduler{
		supervisor: suture.New("scheduler", spec),
		tasks:      make(map[string]*taskService),
	}
}

// Add validates t and starts supervising it.
func (s *Scheduler) Add(t Task) error {
	svc, err := newTaskService(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	s.tasks[t.Name] = svc
	s.supervisor.Add(svc)
	return nil
}

// Names returns the registered task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Trigger runs the named task once, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (err error) {
	s.mu.Lock()
	svc, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return svc.runOnce(ctx)
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	return s.supervisor.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string {
	return "scheduler"
}

type taskService struct {
	task     Task
	schedule cron.Schedule
}

var _ suture.Service = (*taskService)(nil)

func newTaskService(t Task) (*taskService, error) {
	if t.Name == "" || t.Run == nil {
		return nil, fmt.Errorf("%w: name and run function are required", ErrInvalidTask)
	}
	svc := &taskService{task: t}
	switch {
	case t.Cron != "" && t.Interval > 0:
		return nil, fmt.Errorf("%w: %s sets both interval and cron", ErrInvalidTask, t.Name)
	case t.Cron != "":
		sched, err := cron.ParseStandard(t.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: %s cron %q: %v", ErrInvalidTask, t.Name, t.Cron, err)
		}
		svc.schedule = sched
	case t.Interval > 0:
		svc.schedule = every(t.Interval)
	default:
		return nil, fmt.Errorf("%w: %s has no schedule", ErrInvalidTask, t.Name)
	}
	if svc.task.Timeout <= 0 {
		svc.task.Timeout = defaultTaskTimeout
	}
	return svc, nil
}

// Serve waits for each scheduled time and runs the task. Task errors are
// logged and counted; a panic propagates so suture restarts this task only.
func (t *taskService) Serve(ctx context.Context) error {
	for {
		now := time.Now()
		timer := time.NewTimer(t.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := t.runOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Str("task", t.task.Name).Msg("scheduled task failed")
		}
	}
}

// every is cron.Every without its rounding to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func (t *taskService) String() string {
	return "task:" + t.task.Name
}

func (t *taskService) runOnce(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, t.task.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.ScheduledRuns.WithLabelValues(t.task.Name, "panic").Inc()
			logging.Error().Str("task", t.task.Name).Interface("panic", r).Msg("scheduled task panicked")
			panic(r)
		}
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.ScheduledRuns.WithLabelValues(t.task.Name, result).Inc()
		logging.Debug().Str("task", t.task.Name).Dur("duration", time.Since(start)).Str("result", result).Msg("scheduled task finished")
	}()
	return t.task.Run(ctx)
}
