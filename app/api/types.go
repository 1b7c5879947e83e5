package api

import (
	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/migration"
	"github.com/lysyi3m/chan-comb/app/organize"
	"github.com/lysyi3m/chan-comb/app/tasks"
)

type Handler struct {
	configCache   *config.ConfigCache
	channelRepo   database.ChannelRepository
	ruleRepo      database.RuleRepository
	scheduleRepo  database.ScheduleRepository
	organizeRepo  database.OrganizeRepository
	queueRepo     database.QueueRepository
	retryRepo     database.RetryRepository
	migrationRepo database.MigrationRepository
	statsRepo     database.StatsRepository
	registry      *classify.Registry
	orgEngine     *organize.Engine
	tracker       *migration.Tracker
	scheduler     tasks.TaskSchedulerInterface
}

// StartMigrationRequest is the body of POST /api/migrations
type StartMigrationRequest struct {
	SourceChannelID int64  `json:"source_channel_id" binding:"required"`
	Destination     string `json:"destination" binding:"required"`
}

// AssignTopicRequest is the body of POST /api/channels/:name/assignments
type AssignTopicRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
	TopicID   int64 `json:"topic_id" binding:"required"`
}
