package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/retry"
)

// SweepRetriesTask drains due entries from the topic creation retry ledger.
type SweepRetriesTask struct {
	Task
	sweeper *retry.Sweeper
}

func NewSweepRetriesTask(sweeper *retry.Sweeper) *SweepRetriesTask {
	return &SweepRetriesTask{
		Task:    NewTask(TaskTypeSweepRetries, ""),
		sweeper: sweeper,
	}
}

func (t *SweepRetriesTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	resolved, err := t.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	if resolved > 0 {
		slog.Info("Task completed",
			"type", "SweepRetries",
			"duration", t.GetDuration(),
			"resolved", resolved)
	}

	return nil
}
