package database

import (
	"context"
	"fmt"
	"time"
)

var _ RetryRepository = (*retryRepository)(nil)

type retryRepository struct {
	db *DB
}

func NewRetryRepository(db *DB) RetryRepository {
	return &retryRepository{db: db}
}

// ClaimDue leases entries whose next_retry_at has passed. The lease keeps a
// second sweeper from picking up the same entries; entries are re-claimable
// once the lease expires.
func (r *retryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]RetryEntry, error) {
	leaseUntil := now.Add(lease).UTC()
	rows, err := r.db.QueryContext(ctx, `
		UPDATE organization_retry_queue
		SET leased_until = ?
		WHERE id IN (
			SELECT id FROM organization_retry_queue
			WHERE next_retry_at <= ?
			  AND (leased_until IS NULL OR leased_until <= ?)
			ORDER BY next_retry_at ASC
			LIMIT ?
		)
		RETURNING id, message_id, channel_id, category, error_type, retry_count,
		          max_retries, next_retry_at, metadata, created_at
	`, leaseUntil, now.UTC(), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due retry entries: %w", err)
	}
	defer rows.Close()

	var entries []RetryEntry
	for rows.Next() {
		var e RetryEntry
		err := rows.Scan(
			&e.ID, &e.MessageID, &e.ChannelID, &e.Category, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.Metadata, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry entry row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retry entry rows: %w", err)
	}

	return entries, nil
}

// RecordAttemptFailure bumps the ledger entry and the matching failure log
// in one transaction so the two tables never diverge.
func (r *retryRepository) RecordAttemptFailure(ctx context.Context, entry RetryEntry, nextRetryAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE organization_retry_queue
		SET retry_count = retry_count + 1, next_retry_at = ?, leased_until = NULL
		WHERE id = ?
	`, nextRetryAt.UTC(), entry.ID)
	if err != nil {
		return fmt.Errorf("failed to reschedule retry entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE topic_creation_failures
		SET retry_count = retry_count + 1, updated_at = ?
		WHERE channel_id = ? AND category = ? AND resolved = 0
	`, now, entry.ChannelID, entry.Category)
	if err != nil {
		return fmt.Errorf("failed to bump failure retry count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retry attempt: %w", err)
	}
	return nil
}

// Exhaust removes an entry whose retries ran out. The topic creation
// failure stays unresolved as the permanent record.
func (r *retryRepository) Exhaust(ctx context.Context, entry RetryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM organization_retry_queue WHERE id = ?
	`, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to remove exhausted retry entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE topic_creation_failures
		SET retry_count = ?, updated_at = ?
		WHERE channel_id = ? AND category = ? AND resolved = 0
	`, entry.MaxRetries, time.Now().UTC(), entry.ChannelID, entry.Category)
	if err != nil {
		return fmt.Errorf("failed to finalize failure record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exhaustion: %w", err)
	}
	return nil
}

func (r *retryRepository) ListEntries(ctx context.Context, limit int) ([]RetryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, category, error_type, retry_count,
		       max_retries, next_retry_at, metadata, created_at
		FROM organization_retry_queue
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry entries: %w", err)
	}
	defer rows.Close()

	var entries []RetryEntry
	for rows.Next() {
		var e RetryEntry
		err := rows.Scan(
			&e.ID, &e.MessageID, &e.ChannelID, &e.Category, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.Metadata, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry entry row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retry entry rows: %w", err)
	}

	return entries, nil
}

func (r *retryRepository) CountEntries(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM organization_retry_queue").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count retry entries: %w", err)
	}
	return count, nil
}
