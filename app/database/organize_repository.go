package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ OrganizeRepository = (*organizeRepository)(nil)

type organizeRepository struct {
	db *DB
}

func NewOrganizeRepository(db *DB) OrganizeRepository {
	return &organizeRepository{db: db}
}

// Apply executes the whole assignment plan in one transaction.
func (r *organizeRepository) Apply(ctx context.Context, plan AssignmentPlan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if err := upsertMetadata(ctx, tx, plan.Metadata, now); err != nil {
		return err
	}

	if plan.NewTopic != nil {
		t := plan.NewTopic
		_, err := tx.ExecContext(ctx, `
			INSERT INTO forum_topics (channel_id, topic_id, title, category, subcategory, message_count, last_activity, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, 1, ?)
			ON CONFLICT (channel_id, topic_id) DO NOTHING
		`, t.ChannelID, t.TopicID, t.Title, t.Category, t.Subcategory, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert forum topic: %w", err)
		}
	}

	if plan.TopicCreatedAt != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE channels SET last_topic_created_at = ?, updated_at = ? WHERE channel_id = ?
		`, plan.TopicCreatedAt.UTC(), now, plan.Metadata.ChannelID)
		if err != nil {
			return fmt.Errorf("failed to update topic creation timestamp: %w", err)
		}
	}

	if plan.Assignment != nil {
		a := plan.Assignment
		_, err := tx.ExecContext(ctx, `
			INSERT INTO topic_assignments (message_id, channel_id, topic_id, category, assignment_method, confidence, fallback_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (message_id, channel_id) DO UPDATE SET
				topic_id = excluded.topic_id,
				category = excluded.category,
				assignment_method = excluded.assignment_method,
				confidence = excluded.confidence,
				fallback_used = excluded.fallback_used
		`, a.MessageID, a.ChannelID, a.TopicID, a.Category, a.Method, a.Confidence, a.FallbackUsed, now)
		if err != nil {
			return fmt.Errorf("failed to upsert topic assignment: %w", err)
		}
	}

	if plan.TouchTopicID != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE forum_topics
			SET message_count = message_count + 1, last_activity = ?
			WHERE channel_id = ? AND topic_id = ?
		`, now, plan.Metadata.ChannelID, *plan.TouchTopicID)
		if err != nil {
			return fmt.Errorf("failed to bump topic counters: %w", err)
		}
	}

	if plan.Inventory != nil {
		inv := plan.Inventory
		_, err := tx.ExecContext(ctx, `
			INSERT INTO channel_file_inventory (channel_id, file_id, message_id, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (channel_id, file_id, message_id) DO NOTHING
		`, inv.ChannelID, inv.FileID, inv.MessageID, now)
		if err != nil {
			return fmt.Errorf("failed to insert inventory entry: %w", err)
		}
	}

	if plan.TopicFile != nil {
		tf := plan.TopicFile
		_, err := tx.ExecContext(ctx, `
			INSERT INTO topic_file_mappings (channel_id, topic_id, file_id, message_id, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (topic_id, file_id, message_id) DO NOTHING
		`, tf.ChannelID, tf.TopicID, tf.FileID, tf.MessageID, now)
		if err != nil {
			return fmt.Errorf("failed to insert topic file mapping: %w", err)
		}
	}

	if plan.Failure != nil {
		f := plan.Failure
		_, err := tx.ExecContext(ctx, `
			INSERT INTO topic_creation_failures (channel_id, intended_title, category, error_type, retry_count, resolved, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		`, f.ChannelID, f.IntendedTitle, f.Category, f.ErrorType, f.RetryCount, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert topic creation failure: %w", err)
		}
	}

	if plan.Retry != nil {
		e := plan.Retry
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organization_retry_queue (message_id, channel_id, category, error_type, retry_count, max_retries, next_retry_at, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (message_id, channel_id) DO UPDATE SET
				error_type = excluded.error_type,
				next_retry_at = excluded.next_retry_at
		`, e.MessageID, e.ChannelID, e.Category, e.ErrorType, e.RetryCount, e.MaxRetries,
			e.NextRetryAt.UTC(), e.Metadata, now)
		if err != nil {
			return fmt.Errorf("failed to enqueue retry entry: %w", err)
		}
	}

	if plan.ResolveRetryID != nil {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM organization_retry_queue WHERE id = ?
		`, *plan.ResolveRetryID)
		if err != nil {
			return fmt.Errorf("failed to remove retry entry: %w", err)
		}
	}

	if plan.ResolveFailure != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE topic_creation_failures
			SET resolved = 1, updated_at = ?
			WHERE channel_id = ? AND category = ? AND resolved = 0
		`, now, plan.ResolveFailure.ChannelID, plan.ResolveFailure.Category)
		if err != nil {
			return fmt.Errorf("failed to resolve topic creation failures: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignment plan: %w", err)
	}

	return nil
}

func upsertMetadata(ctx context.Context, tx *sql.Tx, m ContentMetadata, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_content_metadata (
			message_id, channel_id, content_type, category, subcategory,
			file_extension, file_size, mime_type, duration, width, height,
			classification_confidence, matched_rule, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, channel_id) DO UPDATE SET
			content_type = excluded.content_type,
			category = excluded.category,
			subcategory = excluded.subcategory,
			file_extension = excluded.file_extension,
			file_size = excluded.file_size,
			mime_type = excluded.mime_type,
			duration = excluded.duration,
			width = excluded.width,
			height = excluded.height,
			classification_confidence = excluded.classification_confidence,
			matched_rule = excluded.matched_rule,
			metadata = excluded.metadata
	`, m.MessageID, m.ChannelID, m.ContentType, m.Category, m.Subcategory,
		m.FileExtension, m.FileSize, m.MimeType, m.Duration, m.Width, m.Height,
		m.Confidence, m.MatchedRule, m.Metadata, now)
	if err != nil {
		return fmt.Errorf("failed to upsert content metadata: %w", err)
	}
	return nil
}

func (r *organizeRepository) GetTopicByCategory(ctx context.Context, channelID int64, category string) (*ForumTopic, error) {
	var t ForumTopic
	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel_id, topic_id, title, category, subcategory, message_count, last_activity, is_active, created_at
		FROM forum_topics
		WHERE channel_id = ? AND category = ? AND is_active = 1
		ORDER BY id ASC
		LIMIT 1
	`, channelID, category).Scan(
		&t.ID, &t.ChannelID, &t.TopicID, &t.Title, &t.Category, &t.Subcategory,
		&t.MessageCount, &t.LastActivity, &t.IsActive, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic by category: %w", err)
	}
	return &t, nil
}

func (r *organizeRepository) CountActiveTopics(ctx context.Context, channelID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM forum_topics WHERE channel_id = ? AND is_active = 1",
		channelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count topics: %w", err)
	}
	return count, nil
}

func (r *organizeRepository) ListTopics(ctx context.Context, channelID int64) ([]ForumTopic, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, topic_id, title, category, subcategory, message_count, last_activity, is_active, created_at
		FROM forum_topics
		WHERE channel_id = ?
		ORDER BY last_activity DESC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []ForumTopic
	for rows.Next() {
		var t ForumTopic
		err := rows.Scan(
			&t.ID, &t.ChannelID, &t.TopicID, &t.Title, &t.Category, &t.Subcategory,
			&t.MessageCount, &t.LastActivity, &t.IsActive, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic row: %w", err)
		}
		topics = append(topics, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic rows: %w", err)
	}

	return topics, nil
}

func (r *organizeRepository) GetAssignment(ctx context.Context, channelID, messageID int64) (*TopicAssignment, error) {
	var a TopicAssignment
	err := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, channel_id, topic_id, category, assignment_method, confidence, fallback_used, created_at
		FROM topic_assignments
		WHERE channel_id = ? AND message_id = ?
	`, channelID, messageID).Scan(
		&a.ID, &a.MessageID, &a.ChannelID, &a.TopicID, &a.Category,
		&a.Method, &a.Confidence, &a.FallbackUsed, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

func (r *organizeRepository) ListAssignments(ctx context.Context, channelID int64, limit int) ([]TopicAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, topic_id, category, assignment_method, confidence, fallback_used, created_at
		FROM topic_assignments
		WHERE channel_id = ?
		ORDER BY message_id DESC
		LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []TopicAssignment
	for rows.Next() {
		var a TopicAssignment
		err := rows.Scan(
			&a.ID, &a.MessageID, &a.ChannelID, &a.TopicID, &a.Category,
			&a.Method, &a.Confidence, &a.FallbackUsed, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment rows: %w", err)
	}

	return assignments, nil
}

func (r *organizeRepository) GetMetadata(ctx context.Context, channelID, messageID int64) (*ContentMetadata, error) {
	var m ContentMetadata
	err := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, channel_id, content_type, category, subcategory,
		       file_extension, file_size, mime_type, duration, width, height,
		       classification_confidence, matched_rule, metadata, created_at
		FROM message_content_metadata
		WHERE channel_id = ? AND message_id = ?
	`, channelID, messageID).Scan(
		&m.ID, &m.MessageID, &m.ChannelID, &m.ContentType, &m.Category, &m.Subcategory,
		&m.FileExtension, &m.FileSize, &m.MimeType, &m.Duration, &m.Width, &m.Height,
		&m.Confidence, &m.MatchedRule, &m.Metadata, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content metadata: %w", err)
	}
	return &m, nil
}

func (r *organizeRepository) ListMetadata(ctx context.Context, channelID int64) ([]ContentMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, content_type, category, subcategory,
		       file_extension, file_size, mime_type, duration, width, height,
		       classification_confidence, matched_rule, metadata, created_at
		FROM message_content_metadata
		WHERE channel_id = ?
		ORDER BY message_id ASC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content metadata: %w", err)
	}
	defer rows.Close()

	var metas []ContentMetadata
	for rows.Next() {
		var m ContentMetadata
		err := rows.Scan(
			&m.ID, &m.MessageID, &m.ChannelID, &m.ContentType, &m.Category, &m.Subcategory,
			&m.FileExtension, &m.FileSize, &m.MimeType, &m.Duration, &m.Width, &m.Height,
			&m.Confidence, &m.MatchedRule, &m.Metadata, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		metas = append(metas, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata rows: %w", err)
	}

	return metas, nil
}

func (r *organizeRepository) ListUnresolvedFailures(ctx context.Context, channelID int64) ([]TopicCreationFailure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, intended_title, category, error_type, retry_count, resolved, created_at, updated_at
		FROM topic_creation_failures
		WHERE channel_id = ? AND resolved = 0
		ORDER BY created_at DESC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved failures: %w", err)
	}
	defer rows.Close()

	var failures []TopicCreationFailure
	for rows.Next() {
		var f TopicCreationFailure
		err := rows.Scan(
			&f.ID, &f.ChannelID, &f.IntendedTitle, &f.Category, &f.ErrorType,
			&f.RetryCount, &f.Resolved, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}

	return failures, nil
}
