package config

import (
	"context"
	"fmt"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/database"
)

// Register writes a loaded channel configuration into the database and
// extends the content type registry with any custom types. Rule and
// schedule names are prefixed with the channel name so two channels can
// use the same local names.
func Register(ctx context.Context, cfg *ChannelConfig, channels database.ChannelRepository, rules database.RuleRepository, schedules database.ScheduleRepository, registry *classify.Registry) error {
	if err := channels.UpsertChannel(ctx, cfg.Channel.ID, cfg.Channel.Title); err != nil {
		return fmt.Errorf("failed to register channel '%s': %w", cfg.Name, err)
	}

	err := channels.UpsertConfig(ctx, database.OrganizationConfig{
		ChannelID:                    cfg.Channel.ID,
		Mode:                         cfg.Settings.Mode,
		TopicStrategy:                cfg.Settings.TopicStrategy,
		CustomStrategy:               cfg.Settings.CustomStrategy,
		FallbackStrategy:             cfg.Settings.FallbackStrategy,
		MaxTopicsPerChannel:          cfg.Settings.MaxTopics,
		TopicCreationCooldownSeconds: cfg.Settings.CooldownSeconds,
		ConfidenceThreshold:          cfg.Settings.ConfidenceThreshold,
		GeneralTopicTitle:            cfg.Settings.GeneralTopicTitle,
		MaxRetries:                   cfg.Settings.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to register organization config '%s': %w", cfg.Name, err)
	}

	if len(cfg.Types) > 0 {
		registry.Extend(cfg.Types)
	}

	for _, rule := range cfg.Rules {
		conditions, err := classify.EncodeConditions(rule.Conditions)
		if err != nil {
			return fmt.Errorf("failed to encode conditions for rule '%s': %w", rule.Name, err)
		}

		enabled := true
		if rule.Enabled != nil {
			enabled = *rule.Enabled
		}

		err = rules.UpsertRule(ctx, database.ClassificationRule{
			Name:        cfg.Name + "/" + rule.Name,
			Strategy:    rule.Strategy,
			Pattern:     rule.Pattern,
			Category:    rule.Category,
			Subcategory: rule.Subcategory,
			Priority:    rule.Priority,
			Conditions:  conditions,
			Enabled:     enabled,
		})
		if err != nil {
			return fmt.Errorf("failed to register rule '%s': %w", rule.Name, err)
		}
	}

	for _, sched := range cfg.Forward {
		enabled := true
		if sched.Enabled != nil {
			enabled = *sched.Enabled
		}

		err := schedules.UpsertSchedule(ctx, database.ForwardSchedule{
			Name:            cfg.Name + "/" + sched.Name,
			Kind:            sched.Kind,
			SourceChannelID: cfg.Channel.ID,
			Destination:     sched.Destination,
			Schedule:        sched.Schedule,
			FileTypes:       sched.FileTypes,
			MinSize:         sched.MinSize,
			MaxSize:         sched.MaxSize,
			Priority:        sched.Priority,
			Enabled:         enabled,
		})
		if err != nil {
			return fmt.Errorf("failed to register schedule '%s': %w", sched.Name, err)
		}
	}

	return nil
}
