// Package scheduler runs repeating background tasks that share one
// lifetime and can be cancelled individually or all at once.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Func is invoked on every tick. Returning false ends the task.
type Func func(now time.Time) bool

// Scheduler owns a group of tasks. Close cancels every task and waits for
// them to return.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// New creates a scheduler whose tasks stop when ctx is done or Close is called
func New(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Task is a handle to a single repeating task
type Task struct {
	cancel context.CancelFunc
}

// Every runs fn every interval until fn returns false, the task is stopped
// or the scheduler is closed.
func (s *Scheduler) Every(interval time.Duration, fn Func) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{cancel: cancel}

	s.group.Go(func() error {
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if !fn(now) {
					return nil
				}
			}
		}
	})

	return t
}

// Stop cancels the task. It does not wait, so it is safe to call from
// inside the task function or while holding a lock the task needs.
func (t *Task) Stop() {
	if t != nil {
		t.cancel()
	}
}

// Close cancels all tasks and waits for them to finish
func (s *Scheduler) Close() {
	s.cancel()
	_ = s.group.Wait()
}
