package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/forward"
)

const defaultBatchSize = 200

// Tracker runs resumable bulk copies of a channel's history into the
// forward queue. Progress is checkpointed per batch, so an interrupted run
// resumes from its cursor instead of starting over.
type Tracker struct {
	migrations database.MigrationRepository
	queue      database.QueueRepository
	dedup      database.DedupRepository
	source     content.MessageSource
	batchSize  int
}

func NewTracker(migrations database.MigrationRepository, queue database.QueueRepository, dedup database.DedupRepository, source content.MessageSource) *Tracker {
	return &Tracker{
		migrations: migrations,
		queue:      queue,
		dedup:      dedup,
		source:     source,
		batchSize:  defaultBatchSize,
	}
}

// Start registers a new migration run and returns its run id.
func (t *Tracker) Start(ctx context.Context, sourceChannelID int64, destination string) (string, error) {
	runID := uuid.NewString()

	_, err := t.migrations.Create(ctx, database.MigrationProgress{
		RunID:           runID,
		SourceChannelID: sourceChannelID,
		Destination:     destination,
		Status:          database.MigrationQueued,
	})
	if err != nil {
		return "", err
	}

	slog.Info("Migration registered", "run_id", runID, "channel_id", sourceChannelID, "destination", destination)
	return runID, nil
}

// Run executes (or resumes) the migration until the source is exhausted.
// Files already forwarded to the destination, including exact content
// duplicates, are skipped; everything else is enqueued with
// ignore-on-conflict, so re-running over already-copied ranges is harmless.
func (t *Tracker) Run(ctx context.Context, runID string) error {
	progress, err := t.migrations.GetByRunID(ctx, runID)
	if err != nil {
		return err
	}
	if progress == nil {
		return fmt.Errorf("unknown migration run '%s'", runID)
	}
	if progress.Status == database.MigrationCompleted {
		return nil
	}

	start := time.Now()
	cursor := progress.LastMessageID
	copied := 0
	skipped := 0

	if err := t.migrations.UpdateProgress(ctx, runID, cursor, database.MigrationInProgress); err != nil {
		return err
	}

	statsID, err := t.queue.OpenStatsRun(ctx, runID, nil, progress.Destination)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := t.source.Fetch(ctx, progress.SourceChannelID, cursor, t.batchSize)
		if err != nil {
			if ferr := t.migrations.Finish(ctx, runID, database.MigrationFailed); ferr != nil {
				slog.Error("Failed to mark migration failed", "run_id", runID, "error", ferr)
			}
			return fmt.Errorf("failed to fetch migration batch: %w", err)
		}
		if len(messages) == 0 {
			break
		}

		for _, msg := range messages {
			if msg.MessageID > cursor {
				cursor = msg.MessageID
			}

			item := database.ForwardQueueItem{
				StatsID:         &statsID,
				MessageID:       msg.MessageID,
				SourceChannelID: progress.SourceChannelID,
				Destination:     progress.Destination,
			}
			if msg.File != nil {
				dup, err := forward.AlreadyDelivered(ctx, t.queue, t.dedup, msg.File.FileID, progress.Destination)
				if err != nil {
					return err
				}
				if dup {
					skipped++
					continue
				}
				item.FileID = msg.File.FileID
				item.FileSize = msg.File.Size
			}

			inserted, err := t.queue.Enqueue(ctx, item)
			if err != nil {
				return err
			}
			if inserted {
				copied++
			}
		}

		if err := t.migrations.UpdateProgress(ctx, runID, cursor, database.MigrationInProgress); err != nil {
			return err
		}
	}

	if err := t.migrations.Finish(ctx, runID, database.MigrationCompleted); err != nil {
		return err
	}
	if _, err := t.queue.FinalizeStatsIfDone(ctx, statsID); err != nil {
		return err
	}

	slog.Info("Task completed", "type", "migration", "run_id", runID,
		"copied", copied, "skipped", skipped, "cursor", cursor,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}
