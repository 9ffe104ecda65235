// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

const drainTimeout = 5 * time.Second

type job struct {
	name string
	ctx  context.Context
	fn   func(ctx context.Context) error
}

// Runner is a bounded worker pool for fire-and-forget work. Submit never
// blocks: when the queue is full the task is dropped and counted.
type Runner struct {
	queue   chan job
	workers int
	dropped atomic.Int64
}

// NewRunner creates a pool with the given worker count and queue size.
func NewRunner(workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Runner{queue: make(chan job, queueSize), workers: workers}
}

// Submit queues fn under name. ctx supplies values for logging only; the
// task runs even if ctx is cancelled.
func (r *Runner) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	select {
	case r.queue <- job{name: name, ctx: context.WithoutCancel(ctx), fn: fn}:
		metrics.AsyncQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		r.dropped.Add(1)
		metrics.AsyncTasksDropped.WithLabelValues(name).Inc()
		logging.Ctx(ctx).Warn().Str("task", name).Msg("async queue full, dropping task")
		return false
	}
}

// Dropped returns how many tasks were dropped since start.
func (r *Runner) Dropped() int64 {
	return r.dropped.Load()
}

// Depth returns the number of queued tasks.
func (r *Runner) Depth() int {
	return len(r.queue)
}

// Serve runs the workers until ctx is cancelled, then drains what is left
// in the queue for a bounded time. It implements suture.Service.
func (r *Runner) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-r.queue:
					r.run(j)
				}
			}
		}()
	}
	wg.Wait()
	r.drain()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (r *Runner) String() string {
	return "async-runner"
}

func (r *Runner) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case j := <-r.queue:
			r.run(j)
		case <-deadline:
			if n := len(r.queue); n > 0 {
				logging.Warn().Int("remaining", n).Msg("async queue not drained before shutdown")
			}
			return
		default:
			return
		}
	}
}

func (r *Runner) run(j job) {
	metrics.AsyncQueueDepth.Set(float64(len(r.queue)))
	defer func() {
		if rec := recover(); rec != nil {
			metrics.AsyncTaskFailures.WithLabelValues(j.name).Inc()
			logging.Ctx(j.ctx).Error().Str("task", j.name).Interface("panic", rec).Msg("async task panicked")
		}
	}()
	if err := j.fn(j.ctx); err != nil {
		metrics.AsyncTaskFailures.WithLabelValues(j.name).Inc()
		logging.Ctx(j.ctx).Warn().Err(err).Str("task", j.name).Msg("async task failed")
	}
}
