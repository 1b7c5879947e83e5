package database

import (
	"context"
	"time"
)

// AssignmentPlan is the atomic multi-table write for one processed message:
// content metadata, the assignment, inventory rows and any failure/retry
// bookkeeping are applied in a single transaction so a crash mid-pipeline
// never leaves a message half-classified.
type AssignmentPlan struct {
	Metadata ContentMetadata

	// Optional parts, applied in the same transaction when set.
	NewTopic       *ForumTopic
	Assignment     *TopicAssignment
	TouchTopicID   *int64 // bump message_count/last_activity for this topic
	Inventory      *InventoryEntry
	TopicFile      *TopicFileMapping
	Failure        *TopicCreationFailure
	Retry          *RetryEntry
	TopicCreatedAt *time.Time  // update the channel cooldown timestamp
	ResolveRetryID *int64      // remove this ledger entry (retry succeeded)
	ResolveFailure *FailureKey // mark matching unresolved failures resolved
}

// FailureKey identifies unresolved topic creation failures by channel and
// category.
type FailureKey struct {
	ChannelID int64
	Category  string
}

type ChannelRepository interface {
	UpsertChannel(ctx context.Context, channelID int64, title string) error
	GetChannel(ctx context.Context, channelID int64) (*Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	UpdateCursor(ctx context.Context, channelID, lastMessageID int64) error
	UpsertConfig(ctx context.Context, cfg OrganizationConfig) error
	GetConfig(ctx context.Context, channelID int64) (*OrganizationConfig, error)
}

type RuleRepository interface {
	UpsertRule(ctx context.Context, rule ClassificationRule) error
	GetEnabledRules(ctx context.Context) ([]ClassificationRule, error)
}

type OrganizeRepository interface {
	Apply(ctx context.Context, plan AssignmentPlan) error

	GetTopicByCategory(ctx context.Context, channelID int64, category string) (*ForumTopic, error)
	CountActiveTopics(ctx context.Context, channelID int64) (int, error)
	ListTopics(ctx context.Context, channelID int64) ([]ForumTopic, error)
	GetAssignment(ctx context.Context, channelID, messageID int64) (*TopicAssignment, error)
	ListAssignments(ctx context.Context, channelID int64, limit int) ([]TopicAssignment, error)
	GetMetadata(ctx context.Context, channelID, messageID int64) (*ContentMetadata, error)
	ListMetadata(ctx context.Context, channelID int64) ([]ContentMetadata, error)
	ListUnresolvedFailures(ctx context.Context, channelID int64) ([]TopicCreationFailure, error)
}

type DedupRepository interface {
	GetByFileID(ctx context.Context, fileID int64) (*FileHash, error)
	Insert(ctx context.Context, fh FileHash) error
	FindBySHA256(ctx context.Context, sha256 string, excludeFileID int64) (*FileHash, error)
	ListPerceptual(ctx context.Context, excludeFileID int64, limit int) ([]FileHash, error)
	ListFuzzy(ctx context.Context, excludeFileID int64, limit int) ([]FileHash, error)
}

type ScheduleRepository interface {
	UpsertSchedule(ctx context.Context, s ForwardSchedule) error
	ListEnabled(ctx context.Context) ([]ForwardSchedule, error)
	MarkRun(ctx context.Context, id, lastMessageID int64, ranAt time.Time) error
}

type QueueRepository interface {
	// Enqueue inserts with ignore-on-conflict for duplicate
	// (message_id, destination) pairs; returns false when ignored.
	Enqueue(ctx context.Context, item ForwardQueueItem) (bool, error)
	ClaimNext(ctx context.Context) (*ForwardQueueItem, error)
	MarkSuccess(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	Requeue(ctx context.Context, id int64, lastError string) error
	WasDelivered(ctx context.Context, fileID int64, destination string) (bool, error)
	ListItems(ctx context.Context, status string, limit int) ([]ForwardQueueItem, error)

	OpenStatsRun(ctx context.Context, runID string, scheduleID *int64, destination string) (int64, error)
	AddStatsDelta(ctx context.Context, statsID int64, messages, files int, bytes int64) error
	FinalizeStatsIfDone(ctx context.Context, statsID int64) (bool, error)
	GetStatsRun(ctx context.Context, statsID int64) (*ForwardStats, error)
	ListStatsRuns(ctx context.Context, limit int) ([]ForwardStats, error)
}

type RetryRepository interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]RetryEntry, error)
	RecordAttemptFailure(ctx context.Context, entry RetryEntry, nextRetryAt time.Time) error
	Exhaust(ctx context.Context, entry RetryEntry) error
	ListEntries(ctx context.Context, limit int) ([]RetryEntry, error)
	CountEntries(ctx context.Context) (int, error)
}

type MigrationRepository interface {
	Create(ctx context.Context, m MigrationProgress) (int64, error)
	GetByRunID(ctx context.Context, runID string) (*MigrationProgress, error)
	List(ctx context.Context, limit int) ([]MigrationProgress, error)
	UpdateProgress(ctx context.Context, runID string, lastMessageID int64, status string) error
	Finish(ctx context.Context, runID, status string) error
}

// Summary aggregates pipeline-wide counters for the stats endpoint.
type Summary struct {
	Channels           int
	Topics             int
	Assignments        int
	QueuePending       int
	QueueInProgress    int
	QueueFailed        int
	QueueSucceeded     int
	RetryEntries       int
	UnresolvedFailures int
}

type StatsRepository interface {
	RollupDay(ctx context.Context, channelID int64, date string) error
	RollupTopics(ctx context.Context, channelID int64, date string) error
	GetChannelStats(ctx context.Context, channelID int64, date string) (*OrganizationStats, error)
	ListTopicUsage(ctx context.Context, channelID int64, date string) ([]TopicUsageStats, error)
	Summary(ctx context.Context) (*Summary, error)
}
