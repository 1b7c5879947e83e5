package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/database"
)

type SyncChannelConfigTask struct {
	Task
	ChannelConfig *config.ChannelConfig
	channelRepo   database.ChannelRepository
	ruleRepo      database.RuleRepository
	scheduleRepo  database.ScheduleRepository
	registry      *classify.Registry
}

func NewSyncChannelConfigTask(channelName string, channelConfig *config.ChannelConfig, channelRepo database.ChannelRepository, ruleRepo database.RuleRepository, scheduleRepo database.ScheduleRepository, registry *classify.Registry) *SyncChannelConfigTask {
	return &SyncChannelConfigTask{
		Task:          NewTask(TaskTypeSyncChannelConfig, channelName),
		ChannelConfig: channelConfig,
		channelRepo:   channelRepo,
		ruleRepo:      ruleRepo,
		scheduleRepo:  scheduleRepo,
		registry:      registry,
	}
}

func (t *SyncChannelConfigTask) GetChannelID() int64 {
	return t.ChannelConfig.Channel.ID
}

func (t *SyncChannelConfigTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := config.Register(ctx, t.ChannelConfig, t.channelRepo, t.ruleRepo, t.scheduleRepo, t.registry)
	if err != nil {
		slog.Error("Task failed", "type", "SyncChannelConfig", "channel", t.ChannelName, "error", err)
		return fmt.Errorf("failed to sync channel config to database: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncChannelConfig",
		"channel", t.ChannelName,
		"duration", t.GetDuration())

	return nil
}
