package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ ChannelRepository = (*channelRepository)(nil)

type channelRepository struct {
	db *DB
}

func NewChannelRepository(db *DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) UpsertChannel(ctx context.Context, channelID int64, title string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (channel_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at
	`, channelID, title, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

func (r *channelRepository) GetChannel(ctx context.Context, channelID int64) (*Channel, error) {
	var ch Channel
	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel_id, title, last_ingested_message_id, last_topic_created_at, created_at, updated_at
		FROM channels
		WHERE channel_id = ?
	`, channelID).Scan(
		&ch.ID, &ch.ChannelID, &ch.Title, &ch.LastIngestedMessageID,
		&ch.LastTopicCreatedAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

func (r *channelRepository) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, title, last_ingested_message_id, last_topic_created_at, created_at, updated_at
		FROM channels
		ORDER BY channel_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		err := rows.Scan(
			&ch.ID, &ch.ChannelID, &ch.Title, &ch.LastIngestedMessageID,
			&ch.LastTopicCreatedAt, &ch.CreatedAt, &ch.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel rows: %w", err)
	}

	return channels, nil
}

func (r *channelRepository) UpdateCursor(ctx context.Context, channelID, lastMessageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels
		SET last_ingested_message_id = ?, updated_at = ?
		WHERE channel_id = ?
	`, lastMessageID, time.Now().UTC(), channelID)
	if err != nil {
		return fmt.Errorf("failed to update channel cursor: %w", err)
	}
	return nil
}

func (r *channelRepository) UpsertConfig(ctx context.Context, cfg OrganizationConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organization_configs (
			channel_id, mode, topic_strategy, custom_strategy, fallback_strategy,
			max_topics_per_channel, topic_creation_cooldown_seconds,
			confidence_threshold, general_topic_title, max_retries, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			mode = excluded.mode,
			topic_strategy = excluded.topic_strategy,
			custom_strategy = excluded.custom_strategy,
			fallback_strategy = excluded.fallback_strategy,
			max_topics_per_channel = excluded.max_topics_per_channel,
			topic_creation_cooldown_seconds = excluded.topic_creation_cooldown_seconds,
			confidence_threshold = excluded.confidence_threshold,
			general_topic_title = excluded.general_topic_title,
			max_retries = excluded.max_retries,
			updated_at = excluded.updated_at
	`, cfg.ChannelID, cfg.Mode, cfg.TopicStrategy, cfg.CustomStrategy, cfg.FallbackStrategy,
		cfg.MaxTopicsPerChannel, cfg.TopicCreationCooldownSeconds,
		cfg.ConfidenceThreshold, cfg.GeneralTopicTitle, cfg.MaxRetries, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert organization config: %w", err)
	}
	return nil
}

func (r *channelRepository) GetConfig(ctx context.Context, channelID int64) (*OrganizationConfig, error) {
	var cfg OrganizationConfig
	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel_id, mode, topic_strategy, custom_strategy, fallback_strategy,
		       max_topics_per_channel, topic_creation_cooldown_seconds,
		       confidence_threshold, general_topic_title, max_retries, updated_at
		FROM organization_configs
		WHERE channel_id = ?
	`, channelID).Scan(
		&cfg.ID, &cfg.ChannelID, &cfg.Mode, &cfg.TopicStrategy, &cfg.CustomStrategy,
		&cfg.FallbackStrategy, &cfg.MaxTopicsPerChannel, &cfg.TopicCreationCooldownSeconds,
		&cfg.ConfidenceThreshold, &cfg.GeneralTopicTitle, &cfg.MaxRetries, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization config: %w", err)
	}
	return &cfg, nil
}
