package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/dedup"
	"github.com/lysyi3m/chan-comb/app/organize"
)

const ingestBatchSize = 100

// IngestChannelTask pulls new messages past the channel cursor and runs
// them through the pipeline: classify, deduplicate, assign. Messages are
// processed in id order and the cursor advances per message, so a failed
// batch resumes exactly where it stopped.
type IngestChannelTask struct {
	Task
	ChannelConfig *config.ChannelConfig
	channelRepo   database.ChannelRepository
	ruleRepo      database.RuleRepository
	engine        *organize.Engine
	index         *dedup.Index
	registry      *classify.Registry
	source        content.MessageSource
}

func NewIngestChannelTask(channelName string, channelConfig *config.ChannelConfig, channelRepo database.ChannelRepository, ruleRepo database.RuleRepository, engine *organize.Engine, index *dedup.Index, registry *classify.Registry, source content.MessageSource) *IngestChannelTask {
	return &IngestChannelTask{
		Task:          NewTask(TaskTypeIngestChannel, channelName),
		ChannelConfig: channelConfig,
		channelRepo:   channelRepo,
		ruleRepo:      ruleRepo,
		engine:        engine,
		index:         index,
		registry:      registry,
		source:        source,
	}
}

func (t *IngestChannelTask) GetChannelID() int64 {
	return t.ChannelConfig.Channel.ID
}

func (t *IngestChannelTask) Execute(ctx context.Context) error {

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

	messages, err := t.source.Fetch(ctx, channelID, ch.LastIngestedMessageID, ingestBatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].MessageID < messages[j].MessageID
	})

	var (
		duplicates    int
		topicsCreated int
		fallbacks     int
	)
	for _, msg := range messages {
		result := clsEngine.Classify(msg)

		duplicate := false
		if msg.File != nil {
			verdict, err := t.index.RecordAndCheck(ctx, msg.File.FileID, result.ContentType, msg.File.Payload)
			if err != nil {
				return fmt.Errorf("failed to deduplicate file %d: %w", msg.File.FileID, err)
			}
			duplicate = verdict.IsDuplicate()
		}
		if duplicate {
			duplicates++
		}

		outcome, err := t.engine.Assign(ctx, *orgCfg, *ch, msg, result, duplicate)
		if err != nil {
			return fmt.Errorf("failed to assign message %d: %w", msg.MessageID, err)
		}
		if outcome.TopicCreated {
			topicsCreated++
			// Reload so the cooldown timestamp applies to the rest of
			// the batch.
			refreshed, err := t.channelRepo.GetChannel(ctx, channelID)
			if err != nil {
				return fmt.Errorf("failed to reload channel: %w", err)
			}
			ch = refreshed
		}
		if outcome.FallbackUsed {
			fallbacks++
		}

		if err := t.channelRepo.UpdateCursor(ctx, channelID, msg.MessageID); err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
	}

	slog.Info("Task completed",
		"type", "IngestChannel",
		"channel", t.ChannelName,
		"duration", t.GetDuration(),
		"total", len(messages),
		"duplicates", duplicates,
		"topics_created", topicsCreated,
		"fallbacks", fallbacks)

	return nil
}

// buildClassifyEngine assembles the rule engine from the enabled rules in
// the database. Rules with unparseable conditions are skipped, never fatal.
func buildClassifyEngine(ctx context.Context, ruleRepo database.RuleRepository, registry *classify.Registry) (*classify.Engine, error) {
	dbRules, err := ruleRepo.GetEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load classification rules: %w", err)
	}

	rules := make([]classify.Rule, 0, len(dbRules))
	for _, r := range dbRules {
		conditions, err := classify.ParseConditions(r.Conditions)
		if err != nil {
			slog.Warn("Skipping rule with unparseable conditions", "rule", r.Name, "error", err)
			continue
		}

		rule := classify.Rule{
			ID:          r.ID,
			Name:        r.Name,
			Strategy:    r.Strategy,
			Pattern:     r.Pattern,
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Priority:    r.Priority,
			Conditions:  conditions,
		}
		if err := rule.Validate(); err != nil {
			slog.Warn("Skipping invalid rule", "rule", r.Name, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	return classify.NewEngine(rules, registry), nil
}
