package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/forward"
)

// ForwardTickTask runs one scheduler pass over the forward schedules and
// then drains whatever the pass (or earlier passes) queued.
type ForwardTickTask struct {
	Task
	scheduler *forward.Scheduler
	worker    *forward.Worker
}

func NewForwardTickTask(scheduler *forward.Scheduler, worker *forward.Worker) *ForwardTickTask {
	return &ForwardTickTask{
		Task:      NewTask(TaskTypeForwardTick, ""),
		scheduler: scheduler,
		worker:    worker,
	}
}

func (t *ForwardTickTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.scheduler.Tick(ctx); err != nil {
		return err
	}

	processed, err := t.worker.Drain(ctx)
	if err != nil {
		return err
	}

	if processed > 0 {
		slog.Info("Task completed",
			"type", "ForwardTick",
			"duration", t.GetDuration(),
			"processed", processed)
	}

	return nil
}
