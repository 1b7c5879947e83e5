package database

import (
	"context"
	"database/sql"
	"fmt"
)

var _ StatsRepository = (*statsRepository)(nil)

type statsRepository struct {
	db *DB
}

func NewStatsRepository(db *DB) StatsRepository {
	return &statsRepository{db: db}
}

// RollupDay recomputes the daily rollup for a channel from the base tables
// and upserts it. Derived data only, so re-running is always safe.
func (r *statsRepository) RollupDay(ctx context.Context, channelID int64, date string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organization_stats (
			channel_id, date, messages_classified, topics_created,
			auto_assignments, fallback_assignments, files_deduplicated
		)
		SELECT
			?, ?,
			(SELECT COUNT(*) FROM message_content_metadata
			 WHERE channel_id = ?1 AND date(created_at) = ?2),
			(SELECT COUNT(*) FROM forum_topics
			 WHERE channel_id = ?1 AND date(created_at) = ?2),
			(SELECT COUNT(*) FROM topic_assignments
			 WHERE channel_id = ?1 AND assignment_method = 'auto' AND date(created_at) = ?2),
			(SELECT COUNT(*) FROM topic_assignments
			 WHERE channel_id = ?1 AND assignment_method = 'fallback' AND date(created_at) = ?2),
			(SELECT COUNT(*) FROM channel_file_inventory
			 WHERE channel_id = ?1 AND date(created_at) = ?2)
		ON CONFLICT (channel_id, date) DO UPDATE SET
			messages_classified = excluded.messages_classified,
			topics_created = excluded.topics_created,
			auto_assignments = excluded.auto_assignments,
			fallback_assignments = excluded.fallback_assignments,
			files_deduplicated = excluded.files_deduplicated
	`, channelID, date)
	if err != nil {
		return fmt.Errorf("failed to roll up daily stats: %w", err)
	}
	return nil
}

func (r *statsRepository) RollupTopics(ctx context.Context, channelID int64, date string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO topic_usage_stats (channel_id, topic_id, date, message_count)
		SELECT channel_id, topic_id, ?2, COUNT(*)
		FROM topic_assignments
		WHERE channel_id = ?1 AND topic_id IS NOT NULL AND date(created_at) = ?2
		GROUP BY channel_id, topic_id
		ON CONFLICT (channel_id, topic_id, date) DO UPDATE SET
			message_count = excluded.message_count
	`, channelID, date)
	if err != nil {
		return fmt.Errorf("failed to roll up topic usage: %w", err)
	}
	return nil
}

func (r *statsRepository) GetChannelStats(ctx context.Context, channelID int64, date string) (*OrganizationStats, error) {
	var s OrganizationStats
	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel_id, date, messages_classified, topics_created,
		       auto_assignments, fallback_assignments, files_deduplicated
		FROM organization_stats
		WHERE channel_id = ? AND date = ?
	`, channelID, date).Scan(
		&s.ID, &s.ChannelID, &s.Date, &s.MessagesClassified, &s.TopicsCreated,
		&s.AutoAssignments, &s.FallbackAssignments, &s.FilesDeduplicated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel stats: %w", err)
	}
	return &s, nil
}

func (r *statsRepository) ListTopicUsage(ctx context.Context, channelID int64, date string) ([]TopicUsageStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, topic_id, date, message_count
		FROM topic_usage_stats
		WHERE channel_id = ? AND date = ?
		ORDER BY message_count DESC
	`, channelID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list topic usage: %w", err)
	}
	defer rows.Close()

	var usage []TopicUsageStats
	for rows.Next() {
		var u TopicUsageStats
		err := rows.Scan(&u.ID, &u.ChannelID, &u.TopicID, &u.Date, &u.MessageCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic usage row: %w", err)
		}
		usage = append(usage, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic usage rows: %w", err)
	}

	return usage, nil
}

func (r *statsRepository) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM channels),
			(SELECT COUNT(*) FROM forum_topics),
			(SELECT COUNT(*) FROM topic_assignments),
			(SELECT COUNT(*) FROM forward_queue WHERE status = 'pending'),
			(SELECT COUNT(*) FROM forward_queue WHERE status = 'in_progress'),
			(SELECT COUNT(*) FROM forward_queue WHERE status = 'failed'),
			(SELECT COUNT(*) FROM forward_queue WHERE status = 'success'),
			(SELECT COUNT(*) FROM organization_retry_queue),
			(SELECT COUNT(*) FROM topic_creation_failures WHERE resolved = 0)
	`).Scan(
		&s.Channels, &s.Topics, &s.Assignments,
		&s.QueuePending, &s.QueueInProgress, &s.QueueFailed, &s.QueueSucceeded,
		&s.RetryEntries, &s.UnresolvedFailures,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	return &s, nil
}
