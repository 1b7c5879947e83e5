package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ QueueRepository = (*queueRepository)(nil)

type queueRepository struct {
	db *DB
}

func NewQueueRepository(db *DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Enqueue(ctx context.Context, item ForwardQueueItem) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO forward_queue (
			schedule_id, stats_id, message_id, file_id, file_size,
			source_channel_id, destination, priority, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT (message_id, destination) DO NOTHING
	`, item.ScheduleID, item.StatsID, item.MessageID, item.FileID, item.FileSize,
		item.SourceChannelID, item.Destination, item.Priority, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue forward item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read enqueue result: %w", err)
	}
	return affected > 0, nil
}

// ClaimNext atomically transitions the highest-priority pending item to
// in_progress and returns it. Returns nil when the queue is drained.
func (r *queueRepository) ClaimNext(ctx context.Context) (*ForwardQueueItem, error) {
	var item ForwardQueueItem
	err := r.db.QueryRowContext(ctx, `
		UPDATE forward_queue
		SET status = 'in_progress', updated_at = ?
		WHERE id = (
			SELECT id FROM forward_queue
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING id, schedule_id, stats_id, message_id, file_id, file_size,
		          source_channel_id, destination, priority, status, attempts,
		          last_error, created_at, updated_at
	`, time.Now().UTC()).Scan(
		&item.ID, &item.ScheduleID, &item.StatsID, &item.MessageID, &item.FileID,
		&item.FileSize, &item.SourceChannelID, &item.Destination, &item.Priority,
		&item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim forward queue item: %w", err)
	}
	return &item, nil
}

func (r *queueRepository) MarkSuccess(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forward_queue
		SET status = 'success', attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark queue item success: %w", err)
	}
	return nil
}

func (r *queueRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forward_queue
		SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?
	`, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

func (r *queueRepository) Requeue(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forward_queue
		SET status = 'pending', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?
	`, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to requeue queue item: %w", err)
	}
	return nil
}

func (r *queueRepository) WasDelivered(ctx context.Context, fileID int64, destination string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM forward_queue
		WHERE file_id = ? AND destination = ? AND status = 'success'
		LIMIT 1
	`, fileID, destination).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return true, nil
}

func (r *queueRepository) ListItems(ctx context.Context, status string, limit int) ([]ForwardQueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schedule_id, stats_id, message_id, file_id, file_size,
		       source_channel_id, destination, priority, status, attempts,
		       last_error, created_at, updated_at
		FROM forward_queue
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []ForwardQueueItem
	for rows.Next() {
		var item ForwardQueueItem
		err := rows.Scan(
			&item.ID, &item.ScheduleID, &item.StatsID, &item.MessageID, &item.FileID,
			&item.FileSize, &item.SourceChannelID, &item.Destination, &item.Priority,
			&item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue item rows: %w", err)
	}

	return items, nil
}

func (r *queueRepository) OpenStatsRun(ctx context.Context, runID string, scheduleID *int64, destination string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO forward_stats (run_id, schedule_id, destination, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, runID, scheduleID, destination, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to open stats run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read stats run id: %w", err)
	}
	return id, nil
}

func (r *queueRepository) AddStatsDelta(ctx context.Context, statsID int64, messages, files int, bytes int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forward_stats
		SET messages_forwarded = messages_forwarded + ?,
		    files_forwarded = files_forwarded + ?,
		    bytes_forwarded = bytes_forwarded + ?
		WHERE id = ?
	`, messages, files, bytes, statsID)
	if err != nil {
		return fmt.Errorf("failed to update stats counters: %w", err)
	}
	return nil
}

// FinalizeStatsIfDone closes the stats row once every queue item of the run
// is resolved. The run is failed when any of its items failed.
func (r *queueRepository) FinalizeStatsIfDone(ctx context.Context, statsID int64) (bool, error) {
	var unresolved int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM forward_queue
		WHERE stats_id = ? AND status IN ('pending', 'in_progress')
	`, statsID).Scan(&unresolved)
	if err != nil {
		return false, fmt.Errorf("failed to count unresolved run items: %w", err)
	}
	if unresolved > 0 {
		return false, nil
	}

	var failed int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM forward_queue
		WHERE stats_id = ? AND status = 'failed'
	`, statsID).Scan(&failed)
	if err != nil {
		return false, fmt.Errorf("failed to count failed run items: %w", err)
	}

	status := StatsCompleted
	if failed > 0 {
		status = StatsFailed
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE forward_stats
		SET status = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`, status, time.Now().UTC(), statsID)
	if err != nil {
		return false, fmt.Errorf("failed to finalize stats run: %w", err)
	}

	return true, nil
}

func (r *queueRepository) GetStatsRun(ctx context.Context, statsID int64) (*ForwardStats, error) {
	var s ForwardStats
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, schedule_id, destination, messages_forwarded,
		       files_forwarded, bytes_forwarded, status, started_at, finished_at
		FROM forward_stats
		WHERE id = ?
	`, statsID).Scan(
		&s.ID, &s.RunID, &s.ScheduleID, &s.Destination, &s.MessagesForwarded,
		&s.FilesForwarded, &s.BytesForwarded, &s.Status, &s.StartedAt, &s.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats run: %w", err)
	}
	return &s, nil
}

func (r *queueRepository) ListStatsRuns(ctx context.Context, limit int) ([]ForwardStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, schedule_id, destination, messages_forwarded,
		       files_forwarded, bytes_forwarded, status, started_at, finished_at
		FROM forward_stats
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats runs: %w", err)
	}
	defer rows.Close()

	var runs []ForwardStats
	for rows.Next() {
		var s ForwardStats
		err := rows.Scan(
			&s.ID, &s.RunID, &s.ScheduleID, &s.Destination, &s.MessagesForwarded,
			&s.FilesForwarded, &s.BytesForwarded, &s.Status, &s.StartedAt, &s.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats run row: %w", err)
		}
		runs = append(runs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats run rows: %w", err)
	}

	return runs, nil
}
