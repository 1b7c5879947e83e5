package config

import (
	"github.com/lysyi3m/chan-comb/app/classify"
)

// ChannelConfig is the per-channel YAML configuration: channel identity,
// organization settings, classification rules and forward schedules.
type ChannelConfig struct {
	Name     string
	Channel  ChannelInfo                  `yaml:"channel"`
	Settings OrganizationSettings         `yaml:"settings"`
	Rules    []RuleConfig                 `yaml:"rules"`
	Forward  []ScheduleConfig             `yaml:"forward"`
	Types    map[string]classify.TypeInfo `yaml:"types"`
}

// ChannelInfo identifies the source channel
type ChannelInfo struct {
	ID    int64  `yaml:"id"`
	Title string `yaml:"title"`
}

// OrganizationSettings controls topic assignment for the channel
type OrganizationSettings struct {
	Mode                string  `yaml:"mode"`
	TopicStrategy       string  `yaml:"topic_strategy"`
	CustomStrategy      string  `yaml:"custom_strategy"`
	FallbackStrategy    string  `yaml:"fallback_strategy"`
	MaxTopics           int     `yaml:"max_topics"`
	CooldownSeconds     int     `yaml:"cooldown_seconds"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	GeneralTopicTitle   string  `yaml:"general_topic_title"`
	MaxRetries          int     `yaml:"max_retries"`
	IngestInterval      int     `yaml:"ingest_interval"` // seconds
}

// RuleConfig is one classification rule
type RuleConfig struct {
	Name        string               `yaml:"name"`
	Strategy    string               `yaml:"strategy"`
	Pattern     string               `yaml:"pattern"`
	Category    string               `yaml:"category"`
	Subcategory string               `yaml:"subcategory"`
	Priority    int                  `yaml:"priority"`
	Conditions  []classify.Condition `yaml:"conditions"`
	Enabled     *bool                `yaml:"enabled"`
}

// ScheduleConfig is one forward schedule
type ScheduleConfig struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	Destination string   `yaml:"destination"`
	Schedule    string   `yaml:"schedule"` // cron expression
	FileTypes   []string `yaml:"file_types"`
	MinSize     int64    `yaml:"min_size"`
	MaxSize     int64    `yaml:"max_size"`
	Priority    int      `yaml:"priority"`
	Enabled     *bool    `yaml:"enabled"`
}
