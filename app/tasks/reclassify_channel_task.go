package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/organize"
)

// ReclassifyChannelTask re-runs classification over a channel's stored
// metadata after rules changed. Messages whose category changed are
// reassigned; untouched ones keep their existing rows.
type ReclassifyChannelTask struct {
	Task
	ChannelConfig *config.ChannelConfig
	channelRepo   database.ChannelRepository
	ruleRepo      database.RuleRepository
	organizeRepo  database.OrganizeRepository
	engine        *organize.Engine
	registry      *classify.Registry
}

func NewReclassifyChannelTask(channelName string, channelConfig *config.ChannelConfig, channelRepo database.ChannelRepository, ruleRepo database.RuleRepository, organizeRepo database.OrganizeRepository, engine *organize.Engine, registry *classify.Registry) *ReclassifyChannelTask {
	return &ReclassifyChannelTask{
		Task:          NewTask(TaskTypeReclassifyChannel, channelName),
		ChannelConfig: channelConfig,
		channelRepo:   channelRepo,
		ruleRepo:      ruleRepo,
		organizeRepo:  organizeRepo,
		engine:        engine,
		registry:      registry,
	}
}

func (t *ReclassifyChannelTask) GetChannelID() int64 {
	return t.ChannelConfig.Channel.ID
}

func (t *ReclassifyChannelTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	channelID := t.ChannelConfig.Channel.ID

	ch, err := t.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to load channel: %w", err)
	}
	orgCfg, err := t.channelRepo.GetConfig(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to load organization config: %w", err)
	}
	if ch == nil || orgCfg == nil {
		return fmt.Errorf("channel %d is not registered", channelID)
	}

	clsEngine, err := buildClassifyEngine(ctx, t.ruleRepo, t.registry)
	if err != nil {
		return err
	}

	stored, err := t.organizeRepo.ListMetadata(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to list stored metadata: %w", err)
	}

	changed := 0
	for _, meta := range stored {
		msg := messageFromMetadata(meta)
		result := clsEngine.Classify(msg)

		if result.Category == meta.Category && result.Subcategory == meta.Subcategory {
			continue
		}

		// Skip inventory writes: the file was inventoried on first ingest.
		outcome, err := t.engine.Assign(ctx, *orgCfg, *ch, msg, result, true)
		if err != nil {
			return fmt.Errorf("failed to reassign message %d: %w", meta.MessageID, err)
		}
		if outcome.TopicCreated {
			refreshed, err := t.channelRepo.GetChannel(ctx, channelID)
			if err != nil {
				return fmt.Errorf("failed to reload channel: %w", err)
			}
			ch = refreshed
		}
		changed++
	}

	slog.Info("Task completed",
		"type", "ReclassifyChannel",
		"channel", t.ChannelName,
		"duration", t.GetDuration(),
		"total", len(stored),
		"changed", changed)

	return nil
}

// messageFromMetadata reconstructs enough of a message for rule evaluation.
// File payloads are not retained, so content hashes are never recomputed
// here.
func messageFromMetadata(meta database.ContentMetadata) content.Message {
	msg := content.Message{
		MessageID: meta.MessageID,
		ChannelID: meta.ChannelID,
		Date:      meta.CreatedAt.UTC(),
	}

	if meta.FileExtension != "" || meta.FileSize > 0 {
		name := ""
		if meta.FileExtension != "" {
			name = "file." + meta.FileExtension
		}
		msg.File = &content.File{
			Name:     name,
			Size:     meta.FileSize,
			MimeType: meta.MimeType,
			Duration: meta.Duration,
			Width:    meta.Width,
			Height:   meta.Height,
		}
	}

	return msg
}
