package orchestrator

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/task"
)

// RunOptions controls the queue loop.
type RunOptions struct {
	// MaxTasks stops the loop after this many tasks; zero means no limit.
	MaxTasks int
	// ResumeInterrupted restores in_progress tasks that have a checkpoint
	// before picking new work.
	ResumeInterrupted bool
}

// RunSummary tallies the tasks a Run call handled.
type RunSummary struct {
	Outcomes  []*Outcome
	Completed int
	Failed    int
	Blocked   int
	Errors    int
	Cancelled bool
}

// Processed returns the number of tasks the loop took up.
func (s RunSummary) Processed() int {
	return len(s.Outcomes) + s.Errors
}

func (s *RunSummary) record(out *Outcome) {
	if out == nil {
		return
	}
	s.Outcomes = append(s.Outcomes, out)
	switch {
	case out.Cancelled:
		s.Cancelled = true
	case out.Status == task.StatusDone:
		s.Completed++
	case out.Status == task.StatusFailed:
		s.Failed++
	case out.Status == task.StatusBlocked:
		s.Blocked++
	}
}

// Run works through the task queue: the first pending task whose
// dependencies are done, in stored order, then the next. It returns when
// no task is ready, when MaxTasks is reached, or with ErrCancelled when a
// run was cancelled or ctx ended. A task that errors is logged and not
// picked again by this call.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	var summary RunSummary
	tried := make(map[string]bool)
	limitReached := func() bool {
		return opts.MaxTasks > 0 && summary.Processed() >= opts.MaxTasks
	}

	if opts.ResumeInterrupted {
		ids, err := e.interrupted(ctx)
		if err != nil {
			return summary, err
		}
		for _, id := range ids {
			if limitReached() {
				return summary, nil
			}
			if err := e.waitIfPaused(ctx); err != nil {
				return summary, err
			}
			tried[id] = true
			out, err := e.Restore(ctx, id)
			if stop, err := e.handleResult(&summary, id, out, err); stop {
				return summary, err
			}
		}
	}

	for !limitReached() {
		if err := e.waitIfPaused(ctx); err != nil {
			return summary, err
		}
		if ctx.Err() != nil {
			summary.Cancelled = true
			return summary, errors.ErrCancelled
		}

		tasks, err := e.tasks.List(ctx)
		if err != nil {
			return summary, fmt.Errorf("list tasks: %w", err)
		}
		for i := range tasks {
			if tried[tasks[i].ID] && tasks[i].Status == task.StatusPending {
				tasks[i].Status = task.StatusInProgress
			}
		}
		next, ok := task.NextReady(tasks)
		if !ok {
			e.logger.Info("no task ready", "processed", summary.Processed())
			return summary, nil
		}

		tried[next.ID] = true
		out, err := e.Submit(ctx, next.ID)
		if stop, err := e.handleResult(&summary, next.ID, out, err); stop {
			return summary, err
		}
	}
	return summary, nil
}

// handleResult records one task's result and reports whether the loop
// must stop.
func (e *Engine) handleResult(summary *RunSummary, taskID string, out *Outcome, err error) (bool, error) {
	summary.record(out)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errors.ErrCancelled):
		summary.Cancelled = true
		return true, err
	case errors.Is(err, errors.ErrEngineBusy):
		return true, err
	default:
		summary.Errors++
		e.logger.Error("task run failed", "task_id", taskID, "error", err.Error())
		return false, nil
	}
}

// interrupted returns in_progress tasks with a checkpoint to resume from.
func (e *Engine) interrupted(ctx context.Context) ([]string, error) {
	if e.checkpoints == nil {
		return nil, nil
	}
	tasks, err := e.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var ids []string
	for _, t := range tasks {
		if t.Status != task.StatusInProgress {
			continue
		}
		if _, err := e.checkpoints.Latest(ctx, t.ID); err != nil {
			if !errors.Is(err, errors.ErrNoCheckpoint) {
				e.logger.Warn("checkpoint lookup failed", "task_id", t.ID, "error", err.Error())
			}
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Pause holds the queue loop before its next task. The task in flight is
// not affected.
func (e *Engine) Pause() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if e.resume == nil {
		e.resume = make(chan struct{})
		e.logger.Info("queue paused")
	}
}

// Resume releases a paused queue loop.
func (e *Engine) Resume() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if e.resume != nil {
		close(e.resume)
		e.resume = nil
		e.logger.Info("queue resumed")
	}
}

// Paused reports whether the queue loop is paused.
func (e *Engine) Paused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.resume != nil
}

func (e *Engine) waitIfPaused(ctx context.Context) error {
	e.pauseMu.Lock()
	ch := e.resume
	e.pauseMu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errors.ErrCancelled
	}
}
