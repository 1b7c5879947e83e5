package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ MigrationRepository = (*migrationRepository)(nil)

type migrationRepository struct {
	db *DB
}

func NewMigrationRepository(db *DB) MigrationRepository {
	return &migrationRepository{db: db}
}

func (r *migrationRepository) Create(ctx context.Context, m MigrationProgress) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO migration_progress (run_id, source_channel_id, destination, last_message_id, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.SourceChannelID, m.Destination, m.LastMessageID, m.Status, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read migration id: %w", err)
	}
	return id, nil
}

func (r *migrationRepository) GetByRunID(ctx context.Context, runID string) (*MigrationProgress, error) {
	var m MigrationProgress
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, source_channel_id, destination, last_message_id, status, started_at, updated_at, finished_at
		FROM migration_progress
		WHERE run_id = ?
	`, runID).Scan(
		&m.ID, &m.RunID, &m.SourceChannelID, &m.Destination, &m.LastMessageID,
		&m.Status, &m.StartedAt, &m.UpdatedAt, &m.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration: %w", err)
	}
	return &m, nil
}

func (r *migrationRepository) List(ctx context.Context, limit int) ([]MigrationProgress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, source_channel_id, destination, last_message_id, status, started_at, updated_at, finished_at
		FROM migration_progress
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var migrations []MigrationProgress
	for rows.Next() {
		var m MigrationProgress
		err := rows.Scan(
			&m.ID, &m.RunID, &m.SourceChannelID, &m.Destination, &m.LastMessageID,
			&m.Status, &m.StartedAt, &m.UpdatedAt, &m.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		migrations = append(migrations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}

	return migrations, nil
}

func (r *migrationRepository) UpdateProgress(ctx context.Context, runID string, lastMessageID int64, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE migration_progress
		SET last_message_id = ?, status = ?, updated_at = ?
		WHERE run_id = ?
	`, lastMessageID, status, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update migration progress: %w", err)
	}
	return nil
}

func (r *migrationRepository) Finish(ctx context.Context, runID, status string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE migration_progress
		SET status = ?, updated_at = ?, finished_at = ?
		WHERE run_id = ?
	`, status, now, now, runID)
	if err != nil {
		return fmt.Errorf("failed to finish migration: %w", err)
	}
	return nil
}
