package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/migration"
)

// RunMigrationTask executes (or resumes) one bulk copy run.
type RunMigrationTask struct {
	Task
	RunID   string
	tracker *migration.Tracker
}

func NewRunMigrationTask(runID string, tracker *migration.Tracker) *RunMigrationTask {
	return &RunMigrationTask{
		Task:    NewTask(TaskTypeRunMigration, ""),
		RunID:   runID,
		tracker: tracker,
	}
}

func (t *RunMigrationTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.tracker.Run(ctx, t.RunID); err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", "RunMigration",
		"run_id", t.RunID,
		"duration", t.GetDuration())

	return nil
}
