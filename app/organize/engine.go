package organize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
)

// TopicManager creates forum topics in the destination channel. Creation
// goes through an external service and can fail transiently.
type TopicManager interface {
	CreateTopic(ctx context.Context, channelID int64, title string) (int64, error)
}

// Outcome reports what a single Assign call produced.
type Outcome struct {
	Assignment   *database.TopicAssignment
	TopicCreated bool
	FallbackUsed bool
	RetryQueued  bool
}

type Engine struct {
	repo     database.OrganizeRepository
	channels database.ChannelRepository
	manager  TopicManager
	timeout  time.Duration
	now      func() time.Time
}

func NewEngine(repo database.OrganizeRepository, channels database.ChannelRepository, manager TopicManager, timeout time.Duration) *Engine {
	return &Engine{
		repo:     repo,
		channels: channels,
		manager:  manager,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Assign persists the classification result for msg and, depending on the
// channel's organization mode, assigns the message to a forum topic. All
// writes for one message land in a single transaction.
func (e *Engine) Assign(ctx context.Context, cfg database.OrganizationConfig, ch database.Channel, msg content.Message, cls classify.Result, duplicateFile bool) (*Outcome, error) {
	plan := database.AssignmentPlan{Metadata: buildMetadata(msg, cls)}

	if msg.File != nil && !duplicateFile {
		plan.Inventory = &database.InventoryEntry{
			ChannelID: msg.ChannelID,
			FileID:    msg.File.FileID,
			MessageID: msg.MessageID,
		}
	}

	switch cfg.Mode {
	case database.ModeDisabled, database.ModeManual:
		// Classification is recorded either way; assignment happens only
		// via the manual endpoint (or not at all).
		if err := e.repo.Apply(ctx, plan); err != nil {
			return nil, err
		}
		return &Outcome{}, nil

	case database.ModeAutoCreate:
		return e.assignAuto(ctx, cfg, ch, msg, cls, plan)
	}

	return nil, &content.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown organization mode '%s'", cfg.Mode)}
}

func (e *Engine) assignAuto(ctx context.Context, cfg database.OrganizationConfig, ch database.Channel, msg content.Message, cls classify.Result, plan database.AssignmentPlan) (*Outcome, error) {
	if cls.Confidence < cfg.ConfidenceThreshold || cls.Category == classify.CategoryUncategorized {
		return e.assignFallback(ctx, cfg, msg, cls, plan, nil)
	}

	key, title, err := DeriveTopic(cfg, msg, cls)
	if err != nil {
		return e.assignFallback(ctx, cfg, msg, cls, plan, nil)
	}

	topic, err := e.repo.GetTopicByCategory(ctx, msg.ChannelID, key)
	if err != nil {
		return nil, err
	}

	if topic != nil {
		e.attachTopic(&plan, msg, cls, topic.TopicID, database.MethodAuto, key)
		if err := e.repo.Apply(ctx, plan); err != nil {
			return nil, err
		}
		return &Outcome{Assignment: plan.Assignment}, nil
	}

	// No topic for this key yet. Quota and cooldown are local policy:
	// they route to the fallback topic without a failure log entry.
	reason, err := e.policyBlock(ctx, cfg, ch)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		slog.Debug("Topic creation blocked", "channel_id", msg.ChannelID, "category", key, "reason", reason)
		return e.assignFallback(ctx, cfg, msg, cls, plan, nil)
	}

	topicID, createErr := e.createTopic(ctx, msg.ChannelID, title)
	if createErr != nil {
		slog.Error("Topic creation failed", "channel_id", msg.ChannelID, "title", title, "error", createErr)
		return e.assignFallback(ctx, cfg, msg, cls, plan, e.failurePlan(cfg, msg, key, title, createErr))
	}

	now := e.now().UTC()
	plan.NewTopic = &database.ForumTopic{
		ChannelID:    msg.ChannelID,
		TopicID:      topicID,
		Title:        title,
		Category:     key,
		Subcategory:  cls.Subcategory,
		LastActivity: now,
		IsActive:     true,
	}
	plan.TopicCreatedAt = &now
	e.attachTopic(&plan, msg, cls, topicID, database.MethodAuto, key)

	if err := e.repo.Apply(ctx, plan); err != nil {
		return nil, err
	}

	return &Outcome{Assignment: plan.Assignment, TopicCreated: true}, nil
}

// policyBlock returns a non-empty reason when local policy forbids
// creating a new topic right now.
func (e *Engine) policyBlock(ctx context.Context, cfg database.OrganizationConfig, ch database.Channel) (string, error) {
	if cfg.MaxTopicsPerChannel > 0 {
		count, err := e.repo.CountActiveTopics(ctx, ch.ChannelID)
		if err != nil {
			return "", err
		}
		if count >= cfg.MaxTopicsPerChannel {
			return "quota_exceeded", nil
		}
	}

	if cfg.TopicCreationCooldownSeconds > 0 && ch.LastTopicCreatedAt != nil {
		cooldown := time.Duration(cfg.TopicCreationCooldownSeconds) * time.Second
		if e.now().UTC().Sub(ch.LastTopicCreatedAt.UTC()) < cooldown {
			return "cooldown_active", nil
		}
	}

	return "", nil
}

// failurePlan builds the failure log entry plus, for transient errors, the
// retry ledger entry. Permanent errors are logged without a retry.
func (e *Engine) failurePlan(cfg database.OrganizationConfig, msg content.Message, key, title string, createErr error) *database.AssignmentPlan {
	errorType := "transient"
	if content.IsPermanent(createErr) {
		errorType = "permanent"
	}

	extra := database.AssignmentPlan{
		Failure: &database.TopicCreationFailure{
			ChannelID:     msg.ChannelID,
			IntendedTitle: title,
			Category:      key,
			ErrorType:     errorType,
		},
	}

	if errorType == "transient" {
		extra.Retry = &database.RetryEntry{
			MessageID:   msg.MessageID,
			ChannelID:   msg.ChannelID,
			Category:    key,
			ErrorType:   errorType,
			MaxRetries:  cfg.MaxRetries,
			NextRetryAt: e.now().UTC().Add(Backoff(0)),
		}
	}

	return &extra
}

// assignFallback routes the message to the channel's general topic,
// creating it on first use. When even that creation fails the assignment
// is written without a topic so reprocessing stays idempotent.
func (e *Engine) assignFallback(ctx context.Context, cfg database.OrganizationConfig, msg content.Message, cls classify.Result, plan database.AssignmentPlan, extra *database.AssignmentPlan) (*Outcome, error) {
	outcome := &Outcome{FallbackUsed: true}

	if extra != nil {
		plan.Failure = extra.Failure
		plan.Retry = extra.Retry
		outcome.RetryQueued = extra.Retry != nil
	}

	topic, err := e.repo.GetTopicByCategory(ctx, msg.ChannelID, FallbackKey)
	if err != nil {
		return nil, err
	}

	switch {
	case topic != nil:
		e.attachTopic(&plan, msg, cls, topic.TopicID, database.MethodFallback, FallbackKey)

	default:
		title := cfg.GeneralTopicTitle
		if title == "" {
			title = "General"
		}
		topicID, createErr := e.createTopic(ctx, msg.ChannelID, title)
		if createErr != nil {
			slog.Error("Fallback topic creation failed", "channel_id", msg.ChannelID, "error", createErr)
			plan.Assignment = &database.TopicAssignment{
				MessageID:    msg.MessageID,
				ChannelID:    msg.ChannelID,
				Category:     FallbackKey,
				Method:       database.MethodFallback,
				Confidence:   cls.Confidence,
				FallbackUsed: true,
			}
		} else {
			now := e.now().UTC()
			plan.NewTopic = &database.ForumTopic{
				ChannelID:    msg.ChannelID,
				TopicID:      topicID,
				Title:        title,
				Category:     FallbackKey,
				LastActivity: now,
				IsActive:     true,
			}
			plan.TopicCreatedAt = &now
			e.attachTopic(&plan, msg, cls, topicID, database.MethodFallback, FallbackKey)
			outcome.TopicCreated = true
		}
	}

	if err := e.repo.Apply(ctx, plan); err != nil {
		return nil, err
	}

	outcome.Assignment = plan.Assignment
	return outcome, nil
}

// AssignManual pins an already-classified message to an explicit topic,
// for channels in manual mode (or operator overrides in any mode). The
// stored metadata is reused as-is.
func (e *Engine) AssignManual(ctx context.Context, channelID, messageID, topicID int64) (*database.TopicAssignment, error) {
	meta, err := e.repo.GetMetadata(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, &content.PermanentError{Reason: "message metadata missing"}
	}

	topicRef := topicID
	assignment := &database.TopicAssignment{
		MessageID:  messageID,
		ChannelID:  channelID,
		TopicID:    &topicRef,
		Category:   meta.Category,
		Method:     database.MethodManual,
		Confidence: meta.Confidence,
	}

	plan := database.AssignmentPlan{
		Metadata:     *meta,
		Assignment:   assignment,
		TouchTopicID: &topicRef,
	}

	if err := e.repo.Apply(ctx, plan); err != nil {
		return nil, err
	}

	return assignment, nil
}

// RetryTopicCreation re-attempts the topic creation an earlier Assign call
// failed at. On success the assignment is upgraded from fallback to the
// real topic, the ledger entry removed and the failure marked resolved.
func (e *Engine) RetryTopicCreation(ctx context.Context, cfg database.OrganizationConfig, ch database.Channel, entry database.RetryEntry) error {
	meta, err := e.repo.GetMetadata(ctx, entry.ChannelID, entry.MessageID)
	if err != nil {
		return err
	}
	if meta == nil {
		return &content.PermanentError{Reason: "message metadata missing"}
	}

	topic, err := e.repo.GetTopicByCategory(ctx, entry.ChannelID, entry.Category)
	if err != nil {
		return err
	}

	var (
		created bool
		now     = e.now().UTC()
	)
	plan := database.AssignmentPlan{
		Metadata:       *meta,
		ResolveRetryID: &entry.ID,
		ResolveFailure: &database.FailureKey{ChannelID: entry.ChannelID, Category: entry.Category},
	}

	if topic == nil {
		reason, err := e.policyBlock(ctx, cfg, ch)
		if err != nil {
			return err
		}
		if reason != "" {
			return &content.TransientError{Reason: reason}
		}

		title := titleCase(entry.Category)
		topicID, createErr := e.createTopic(ctx, entry.ChannelID, title)
		if createErr != nil {
			return createErr
		}

		plan.NewTopic = &database.ForumTopic{
			ChannelID:    entry.ChannelID,
			TopicID:      topicID,
			Title:        title,
			Category:     entry.Category,
			LastActivity: now,
			IsActive:     true,
		}
		plan.TopicCreatedAt = &now
		topic = plan.NewTopic
		created = true
	}

	topicRef := topic.TopicID
	plan.Assignment = &database.TopicAssignment{
		MessageID:  entry.MessageID,
		ChannelID:  entry.ChannelID,
		TopicID:    &topicRef,
		Category:   entry.Category,
		Method:     database.MethodAuto,
		Confidence: meta.Confidence,
	}
	if !created {
		plan.TouchTopicID = &topicRef
	}

	if err := e.repo.Apply(ctx, plan); err != nil {
		return err
	}

	slog.Info("Topic creation retry succeeded", "channel_id", entry.ChannelID, "category", entry.Category, "retry_count", entry.RetryCount)
	return nil
}

func (e *Engine) createTopic(ctx context.Context, channelID int64, title string) (int64, error) {
	createCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		createCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	return e.manager.CreateTopic(createCtx, channelID, title)
}

func (e *Engine) attachTopic(plan *database.AssignmentPlan, msg content.Message, cls classify.Result, topicID int64, method, category string) {
	topicRef := topicID
	plan.Assignment = &database.TopicAssignment{
		MessageID:    msg.MessageID,
		ChannelID:    msg.ChannelID,
		TopicID:      &topicRef,
		Category:     category,
		Method:       method,
		Confidence:   cls.Confidence,
		FallbackUsed: method == database.MethodFallback,
	}
	if plan.NewTopic == nil {
		plan.TouchTopicID = &topicRef
	}
	if msg.File != nil {
		plan.TopicFile = &database.TopicFileMapping{
			ChannelID: msg.ChannelID,
			TopicID:   topicID,
			FileID:    msg.File.FileID,
			MessageID: msg.MessageID,
		}
	}
}

func buildMetadata(msg content.Message, cls classify.Result) database.ContentMetadata {
	meta := database.ContentMetadata{
		MessageID:   msg.MessageID,
		ChannelID:   msg.ChannelID,
		ContentType: cls.ContentType,
		Category:    cls.Category,
		Subcategory: cls.Subcategory,
		Confidence:  cls.Confidence,
		MatchedRule: cls.MatchedRule,
	}

	if f := msg.File; f != nil {
		meta.FileExtension = f.Extension()
		meta.FileSize = f.Size
		meta.MimeType = f.MimeType
		meta.Duration = f.Duration
		meta.Width = f.Width
		meta.Height = f.Height
	}

	return meta
}
