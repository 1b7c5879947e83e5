package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

var _ ScheduleRepository = (*scheduleRepository)(nil)

type scheduleRepository struct {
	db *DB
}

func NewScheduleRepository(db *DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) UpsertSchedule(ctx context.Context, s ForwardSchedule) error {
	fileTypes, err := json.Marshal(s.FileTypes)
	if err != nil {
		return fmt.Errorf("failed to encode file types: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO forward_schedules (
			name, kind, source_channel_id, destination, schedule,
			file_types, min_size, max_size, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			kind = excluded.kind,
			source_channel_id = excluded.source_channel_id,
			destination = excluded.destination,
			schedule = excluded.schedule,
			file_types = excluded.file_types,
			min_size = excluded.min_size,
			max_size = excluded.max_size,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, s.Name, s.Kind, s.SourceChannelID, s.Destination, s.Schedule,
		string(fileTypes), s.MinSize, s.MaxSize, s.Priority, s.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert forward schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) ListEnabled(ctx context.Context) ([]ForwardSchedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, source_channel_id, destination, schedule,
		       file_types, min_size, max_size, priority, enabled,
		       last_message_id, last_run_at, created_at, updated_at
		FROM forward_schedules
		WHERE enabled = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}
	defer rows.Close()

	var schedules []ForwardSchedule
	for rows.Next() {
		var s ForwardSchedule
		var fileTypes string
		err := rows.Scan(
			&s.ID, &s.Name, &s.Kind, &s.SourceChannelID, &s.Destination, &s.Schedule,
			&fileTypes, &s.MinSize, &s.MaxSize, &s.Priority, &s.Enabled,
			&s.LastMessageID, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		if err := json.Unmarshal([]byte(fileTypes), &s.FileTypes); err != nil {
			return nil, fmt.Errorf("failed to decode file types: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	return schedules, nil
}

// MarkRun advances the schedule cursor after a batch has been enqueued.
// The cursor moves only here, so a crash before the call causes re-enqueue
// and the queue's ignore-on-conflict keying absorbs the duplicates.
func (r *scheduleRepository) MarkRun(ctx context.Context, id, lastMessageID int64, ranAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forward_schedules
		SET last_message_id = ?, last_run_at = ?, updated_at = ?
		WHERE id = ?
	`, lastMessageID, ranAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	return nil
}
