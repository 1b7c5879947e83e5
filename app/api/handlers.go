package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/migration"
	"github.com/lysyi3m/chan-comb/app/organize"
	"github.com/lysyi3m/chan-comb/app/tasks"
)

func NewHandler(configCache *config.ConfigCache, channelRepo database.ChannelRepository,
	ruleRepo database.RuleRepository, scheduleRepo database.ScheduleRepository,
	organizeRepo database.OrganizeRepository, queueRepo database.QueueRepository,
	retryRepo database.RetryRepository, migrationRepo database.MigrationRepository,
	statsRepo database.StatsRepository, registry *classify.Registry,
	orgEngine *organize.Engine, tracker *migration.Tracker,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		configCache:   configCache,
		channelRepo:   channelRepo,
		ruleRepo:      ruleRepo,
		scheduleRepo:  scheduleRepo,
		organizeRepo:  organizeRepo,
		queueRepo:     queueRepo,
		retryRepo:     retryRepo,
		migrationRepo: migrationRepo,
		statsRepo:     statsRepo,
		registry:      registry,
		orgEngine:     orgEngine,
		tracker:       tracker,
		scheduler:     scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if channels, err := h.channelRepo.ListChannels(c.Request.Context()); err == nil {
		health["channels"] = len(channels)
	}

	if pending, err := h.retryRepo.CountEntries(c.Request.Context()); err == nil {
		health["pending_retries"] = pending
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	summary, err := h.statsRepo.Summary(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "summary", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"channels":            summary.Channels,
		"topics":              summary.Topics,
		"assignments":         summary.Assignments,
		"queue_pending":       summary.QueuePending,
		"queue_in_progress":   summary.QueueInProgress,
		"queue_failed":        summary.QueueFailed,
		"queue_succeeded":     summary.QueueSucceeded,
		"retry_entries":       summary.RetryEntries,
		"unresolved_failures": summary.UnresolvedFailures,
	})
}

func (h *Handler) APIListChannels(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	channels := make([]map[string]interface{}, 0, len(configs))

	for _, channelConfig := range configs {
		channelInfo := map[string]interface{}{
			"name":           channelConfig.Name,
			"channel_id":     channelConfig.Channel.ID,
			"title":          channelConfig.Channel.Title,
			"mode":           channelConfig.Settings.Mode,
			"topic_strategy": channelConfig.Settings.TopicStrategy,
			"rules":          len(channelConfig.Rules),
			"schedules":      len(channelConfig.Forward),
		}

		if ch, err := h.channelRepo.GetChannel(c.Request.Context(), channelConfig.Channel.ID); err == nil && ch != nil {
			channelInfo["last_ingested_message_id"] = ch.LastIngestedMessageID
			channelInfo["last_topic_created_at"] = ch.LastTopicCreatedAt
			channelInfo["updated_at"] = ch.UpdatedAt
		}

		if topics, err := h.organizeRepo.ListTopics(c.Request.Context(), channelConfig.Channel.ID); err == nil {
			channelInfo["topic_count"] = len(topics)
		}

		channels = append(channels, channelInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"channels": channels,
		"total":    len(channels),
	})
}

func (h *Handler) APIGetChannelDetails(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing channel name parameter"})
		return
	}

	channelConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		slog.Error("Channel configuration not found", "channel", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel configuration not found"})
		return
	}

	ch, err := h.channelRepo.GetChannel(c.Request.Context(), channelConfig.Channel.ID)
	if err != nil {
		slog.Error("Database error", "operation", "get_channel", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if ch == nil {
		slog.Error("Channel not found in database", "channel", name)
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found in database"})
		return
	}

	details := map[string]interface{}{
		"name":                 name,
		"channel_id":           channelConfig.Channel.ID,
		"title":                ch.Title,
		"mode":                 channelConfig.Settings.Mode,
		"topic_strategy":       channelConfig.Settings.TopicStrategy,
		"max_topics":           channelConfig.Settings.MaxTopics,
		"cooldown":             (time.Duration(channelConfig.Settings.CooldownSeconds) * time.Second).String(),
		"confidence_threshold": channelConfig.Settings.ConfidenceThreshold,
		"rules":                channelConfig.Rules,
	}

	details["database"] = map[string]interface{}{
		"id":                       ch.ID,
		"last_ingested_message_id": ch.LastIngestedMessageID,
		"last_topic_created_at":    ch.LastTopicCreatedAt,
		"created_at":               ch.CreatedAt,
		"updated_at":               ch.UpdatedAt,
	}

	if failures, err := h.organizeRepo.ListUnresolvedFailures(c.Request.Context(), channelConfig.Channel.ID); err == nil {
		details["unresolved_failures"] = failures
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) APIListTopics(c *gin.Context) {
	channelConfig, ok := h.lookupConfig(c)
	if !ok {
		return
	}

	topics, err := h.organizeRepo.ListTopics(c.Request.Context(), channelConfig.Channel.ID)
	if err != nil {
		slog.Error("Database error", "operation", "list_topics", "channel", channelConfig.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"topics": topics,
		"total":  len(topics),
	})
}

func (h *Handler) APIListAssignments(c *gin.Context) {
	channelConfig, ok := h.lookupConfig(c)
	if !ok {
		return
	}

	limit := queryLimit(c, 100)
	assignments, err := h.organizeRepo.ListAssignments(c.Request.Context(), channelConfig.Channel.ID, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_assignments", "channel", channelConfig.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"assignments": assignments,
		"total":       len(assignments),
	})
}

func (h *Handler) APIAssignTopic(c *gin.Context) {
	channelConfig, ok := h.lookupConfig(c)
	if !ok {
		return
	}

	var req AssignTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	assignment, err := h.orgEngine.AssignManual(c.Request.Context(), channelConfig.Channel.ID, req.MessageID, req.TopicID)
	if err != nil {
		if content.IsPermanent(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message has not been classified", "details": err.Error()})
			return
		}
		slog.Error("Manual assignment failed", "channel", channelConfig.Name, "message_id", req.MessageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign topic", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"assignment": assignment,
	})
}

func (h *Handler) APIReclassifyChannel(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing channel name parameter"})
		return
	}

	if _, err := h.configCache.GetConfig(name); err != nil {
		slog.Error("Channel configuration not found", "channel", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel configuration not found"})
		return
	}

	channelConfig, err := h.configCache.LoadConfig(name)
	if err != nil {
		slog.Error("Error reloading configuration", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload configuration",
			"details": err.Error(),
		})
		return
	}

	syncTask := tasks.NewSyncChannelConfigTask(name, channelConfig, h.channelRepo, h.ruleRepo, h.scheduleRepo, h.registry)
	if err := h.scheduler.EnqueueTask(syncTask); err != nil {
		slog.Error("Error enqueueing sync task", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	reclassifyTask := tasks.NewReclassifyChannelTask(name, channelConfig, h.channelRepo, h.ruleRepo, h.organizeRepo, h.orgEngine, h.registry)
	if err := h.scheduler.EnqueueTask(reclassifyTask); err != nil {
		slog.Error("Error enqueueing reclassify task", "channel", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue reclassify task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Configuration reloaded and tasks enqueued successfully",
		"channel": gin.H{
			"name":       name,
			"channel_id": channelConfig.Channel.ID,
		},
		"tasks": []gin.H{
			{
				"id":   syncTask.ID,
				"type": syncTask.Type,
			},
			{
				"id":   reclassifyTask.ID,
				"type": reclassifyTask.Type,
			},
		},
	})
}

func (h *Handler) APIListQueue(c *gin.Context) {
	status := c.DefaultQuery("status", database.QueuePending)
	limit := queryLimit(c, 100)

	items, err := h.queueRepo.ListItems(c.Request.Context(), status, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"status": status,
		"items":  items,
		"total":  len(items),
	})
}

func (h *Handler) APIListRetries(c *gin.Context) {
	limit := queryLimit(c, 100)

	entries, err := h.retryRepo.ListEntries(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_retries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handler) APIListForwardRuns(c *gin.Context) {
	limit := queryLimit(c, 50)

	runs, err := h.queueRepo.ListStatsRuns(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_forward_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

func (h *Handler) APIListMigrations(c *gin.Context) {
	limit := queryLimit(c, 50)

	migrations, err := h.migrationRepo.List(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_migrations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"migrations": migrations,
		"total":      len(migrations),
	})
}

func (h *Handler) APIGetMigration(c *gin.Context) {
	runID := c.Param("run_id")

	progress, err := h.migrationRepo.GetByRunID(c.Request.Context(), runID)
	if err != nil {
		slog.Error("Database error", "operation", "get_migration", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Migration run not found"})
		return
	}

	c.JSON(http.StatusOK, progress)
}

func (h *Handler) APIStartMigration(c *gin.Context) {
	var req StartMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	runID, err := h.tracker.Start(c.Request.Context(), req.SourceChannelID, req.Destination)
	if err != nil {
		slog.Error("Error starting migration", "channel_id", req.SourceChannelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to start migration",
			"details": err.Error(),
		})
		return
	}

	migrationTask := tasks.NewRunMigrationTask(runID, h.tracker)
	if err := h.scheduler.EnqueueTask(migrationTask); err != nil {
		slog.Error("Error enqueueing migration task", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue migration task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"run_id":  runID,
		"task": gin.H{
			"id":   migrationTask.ID,
			"type": migrationTask.Type,
		},
	})
}

func (h *Handler) lookupConfig(c *gin.Context) (*config.ChannelConfig, bool) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing channel name parameter"})
		return nil, false
	}

	channelConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		slog.Error("Channel configuration not found", "channel", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel configuration not found"})
		return nil, false
	}

	return channelConfig, true
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}
