package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/organize"
)

type ConfigCache struct {
	channelsDir string
	cache       map[string]*ChannelConfig
	mu          sync.RWMutex
}

func NewConfigCache(channelsDir string) *ConfigCache {
	return &ConfigCache{
		channelsDir: channelsDir,
		cache:       make(map[string]*ChannelConfig),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.channelsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.channelsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		// Derive channel name from filename (remove .yml extension)
		fileName := filepath.Base(file)
		channelName := fileName[:len(fileName)-4]

		config, err := cc.LoadConfig(channelName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "channel", channelName, "channel_id", config.Channel.ID,
			"mode", config.Settings.Mode, "rules", len(config.Rules), "schedules", len(config.Forward))
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(channelName string) (*ChannelConfig, error) {
	configFile := cc.getConfigFilePath(channelName)
	config, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	// Set channel name from parameter
	config.Name = channelName

	if err := cc.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	// Individual rules and schedules are skipped rather than failing the
	// whole channel, so one bad rule never takes an archive offline.
	config.Rules = cc.filterRules(channelName, config.Rules)
	config.Forward = cc.filterSchedules(channelName, config.Forward)

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[config.Name] = config

	return config, nil
}

func (cc *ConfigCache) GetConfig(channelName string) (*ChannelConfig, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[channelName]
	if !ok {
		return nil, fmt.Errorf("channel config with name '%s' not found", channelName)
	}
	return config, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*ChannelConfig {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*ChannelConfig, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*ChannelConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config ChannelConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Settings.Mode == "" {
		config.Settings.Mode = database.ModeAutoCreate
	}
	if config.Settings.TopicStrategy == "" {
		config.Settings.TopicStrategy = database.StrategyContentType
	}
	if config.Settings.ConfidenceThreshold == 0 {
		config.Settings.ConfidenceThreshold = 0.5
	}
	if config.Settings.GeneralTopicTitle == "" {
		config.Settings.GeneralTopicTitle = "General"
	}
	if config.Settings.MaxRetries == 0 {
		config.Settings.MaxRetries = 3
	}
	if config.Settings.IngestInterval == 0 {
		config.Settings.IngestInterval = 300
	}

	return &config, nil
}

func (cc *ConfigCache) validateConfig(config *ChannelConfig) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.Channel.ID == 0 {
		return fmt.Errorf("channel id is required")
	}

	validModes := map[string]bool{
		database.ModeAutoCreate: true,
		database.ModeManual:     true,
		database.ModeDisabled:   true,
	}
	if !validModes[config.Settings.Mode] {
		return fmt.Errorf("invalid organization mode: %s", config.Settings.Mode)
	}

	validStrategies := map[string]bool{
		database.StrategyContentType: true,
		database.StrategyDateBased:   true,
		database.StrategyCustom:      true,
	}
	if !validStrategies[config.Settings.TopicStrategy] {
		return fmt.Errorf("invalid topic strategy: %s", config.Settings.TopicStrategy)
	}

	if config.Settings.TopicStrategy == database.StrategyCustom {
		if _, ok := organize.LookupTitleBuilder(config.Settings.CustomStrategy); !ok {
			return fmt.Errorf("unknown custom topic builder: %s", config.Settings.CustomStrategy)
		}
	}

	nonNegativeFields := map[string]int{
		"max topics":       config.Settings.MaxTopics,
		"cooldown seconds": config.Settings.CooldownSeconds,
		"max retries":      config.Settings.MaxRetries,
		"ingest interval":  config.Settings.IngestInterval,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if config.Settings.ConfidenceThreshold < 0 || config.Settings.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}

	return nil
}

func (cc *ConfigCache) filterRules(channelName string, rules []RuleConfig) []RuleConfig {
	validStrategies := map[string]bool{
		database.RuleFileExtension:   true,
		database.RuleSizeBased:       true,
		database.RuleContentAnalysis: true,
		database.RuleCustom:          true,
	}

	kept := rules[:0]
	for _, rule := range rules {
		if rule.Name == "" || rule.Category == "" || !validStrategies[rule.Strategy] {
			slog.Warn("Skipping invalid classification rule", "channel", channelName, "rule", rule.Name, "strategy", rule.Strategy)
			continue
		}

		bad := false
		for i := range rule.Conditions {
			if err := rule.Conditions[i].Validate(); err != nil {
				slog.Warn("Skipping rule with invalid condition", "channel", channelName, "rule", rule.Name, "error", err)
				bad = true
				break
			}
		}
		if bad {
			continue
		}

		kept = append(kept, rule)
	}
	return kept
}

func (cc *ConfigCache) filterSchedules(channelName string, schedules []ScheduleConfig) []ScheduleConfig {
	kept := schedules[:0]
	for _, sched := range schedules {
		if sched.Name == "" || sched.Destination == "" {
			slog.Warn("Skipping forward schedule without name or destination", "channel", channelName, "schedule", sched.Name)
			continue
		}
		if sched.Kind != database.ScheduleChannel && sched.Kind != database.ScheduleFile {
			slog.Warn("Skipping forward schedule with invalid kind", "channel", channelName, "schedule", sched.Name, "kind", sched.Kind)
			continue
		}
		if _, err := cron.ParseStandard(sched.Schedule); err != nil {
			slog.Warn("Skipping forward schedule with invalid cron expression", "channel", channelName, "schedule", sched.Name, "error", err)
			continue
		}
		kept = append(kept, sched)
	}
	return kept
}

func (cc *ConfigCache) getConfigFilePath(channelName string) string {
	return filepath.Join(cc.channelsDir, channelName+".yml")
}
