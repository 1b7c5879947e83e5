package database

import (
	"time"
)

// Organization mode for a channel
const (
	ModeAutoCreate = "auto_create"
	ModeManual     = "manual"
	ModeDisabled   = "disabled"
)

// Topic derivation strategies
const (
	StrategyContentType = "content_type"
	StrategyDateBased   = "date_based"
	StrategyCustom      = "custom"
)

// Classification rule strategies
const (
	RuleFileExtension   = "file_extension"
	RuleSizeBased       = "size_based"
	RuleContentAnalysis = "content_analysis"
	RuleCustom          = "custom"
)

// Assignment methods
const (
	MethodAuto     = "auto"
	MethodManual   = "manual"
	MethodFallback = "fallback"
)

// Forward queue item states. Transitions are monotonic and single-writer:
// pending -> in_progress -> {success, failed}, with transient failures
// resetting in_progress back to pending until attempts run out.
const (
	QueuePending    = "pending"
	QueueInProgress = "in_progress"
	QueueSuccess    = "success"
	QueueFailed     = "failed"
)

// Migration states
const (
	MigrationQueued     = "queued"
	MigrationInProgress = "in_progress"
	MigrationCompleted  = "completed"
	MigrationFailed     = "failed"
)

// Forward stats run states
const (
	StatsRunning   = "running"
	StatsCompleted = "completed"
	StatsFailed    = "failed"
)

// Forward schedule variants
const (
	ScheduleChannel = "channel"
	ScheduleFile    = "file"
)

// Channel anchors per-channel state: the ingest cursor and the topic
// creation cooldown timestamp.
type Channel struct {
	ID                    int64
	ChannelID             int64
	Title                 string
	LastIngestedMessageID int64
	LastTopicCreatedAt    *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OrganizationConfig governs topic assignment behavior for one channel
type OrganizationConfig struct {
	ID                           int64
	ChannelID                    int64
	Mode                         string
	TopicStrategy                string
	CustomStrategy               string
	FallbackStrategy             string
	MaxTopicsPerChannel          int
	TopicCreationCooldownSeconds int
	ConfidenceThreshold          float64
	GeneralTopicTitle            string
	MaxRetries                   int
	UpdatedAt                    time.Time
}

// ClassificationRule is an operator-defined predicate with a priority.
// Conditions holds the JSON-encoded predicate tree.
type ClassificationRule struct {
	ID          int64
	Name        string
	Strategy    string
	Pattern     string
	Category    string
	Subcategory string
	Priority    int
	Conditions  string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentMetadata is the classification result for one message,
// unique on (message_id, channel_id).
type ContentMetadata struct {
	ID            int64
	MessageID     int64
	ChannelID     int64
	ContentType   string
	Category      string
	Subcategory   string
	FileExtension string
	FileSize      int64
	MimeType      string
	Duration      int
	Width         int
	Height        int
	Confidence    float64
	MatchedRule   string
	Metadata      string
	CreatedAt     time.Time
}

type ForumTopic struct {
	ID           int64
	ChannelID    int64
	TopicID      int64
	Title        string
	Category     string
	Subcategory  string
	MessageCount int
	LastActivity time.Time
	IsActive     bool
	CreatedAt    time.Time
}

type TopicAssignment struct {
	ID           int64
	MessageID    int64
	ChannelID    int64
	TopicID      *int64
	Category     string
	Method       string
	Confidence   float64
	FallbackUsed bool
	CreatedAt    time.Time
}

// TopicCreationFailure is the append-only failure log; resolved flips to
// true when a later retry (or manual action) succeeds.
type TopicCreationFailure struct {
	ID            int64
	ChannelID     int64
	IntendedTitle string
	Category      string
	ErrorType     string
	RetryCount    int
	Resolved      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RetryEntry is one item of the organization retry ledger.
// Invariant: RetryCount <= MaxRetries; exhausted entries are removed and
// the corresponding TopicCreationFailure stays unresolved.
type RetryEntry struct {
	ID          int64
	MessageID   int64
	ChannelID   int64
	Category    string
	ErrorType   string
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time
	Metadata    string
	CreatedAt   time.Time
}

// FileHash records content hashes for a file, written once per file_id.
type FileHash struct {
	ID             int64
	FileID         int64
	SHA256         string
	PerceptualHash string
	FuzzyHash      string
	CreatedAt      time.Time
}

type InventoryEntry struct {
	ID        int64
	ChannelID int64
	FileID    int64
	MessageID int64
	CreatedAt time.Time
}

type TopicFileMapping struct {
	ID        int64
	ChannelID int64
	TopicID   int64
	FileID    int64
	MessageID int64
	CreatedAt time.Time
}

type ForwardSchedule struct {
	ID              int64
	Name            string
	Kind            string
	SourceChannelID int64
	Destination     string
	Schedule        string
	FileTypes       []string
	MinSize         int64
	MaxSize         int64
	Priority        int
	Enabled         bool
	LastMessageID   int64
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ForwardQueueItem struct {
	ID              int64
	ScheduleID      *int64
	StatsID         *int64
	MessageID       int64
	FileID          int64
	FileSize        int64
	SourceChannelID int64
	Destination     string
	Priority        int
	Status          string
	Attempts        int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ForwardStats struct {
	ID                int64
	RunID             string
	ScheduleID        *int64
	Destination       string
	MessagesForwarded int
	FilesForwarded    int
	BytesForwarded    int64
	Status            string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

type MigrationProgress struct {
	ID              int64
	RunID           string
	SourceChannelID int64
	Destination     string
	LastMessageID   int64
	Status          string
	StartedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
}

// OrganizationStats is a daily rollup per channel, derived and idempotent.
type OrganizationStats struct {
	ID                  int64
	ChannelID           int64
	Date                string
	MessagesClassified  int
	TopicsCreated       int
	AutoAssignments     int
	FallbackAssignments int
	FilesDeduplicated   int
}

type TopicUsageStats struct {
	ID           int64
	ChannelID    int64
	TopicID      int64
	Date         string
	MessageCount int
}
