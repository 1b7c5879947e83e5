package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestChannelRepositoryUpsertAndCursor(t *testing.T) {
	db := newTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	if err := repo.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatalf("UpsertChannel failed: %v", err)
	}
	if err := repo.UpsertChannel(ctx, 100, "Engineering Archive"); err != nil {
		t.Fatalf("Second UpsertChannel failed: %v", err)
	}

	ch, err := repo.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if ch == nil {
		t.Fatal("Expected channel, got nil")
	}
	if ch.Title != "Engineering Archive" {
		t.Errorf("Expected updated title 'Engineering Archive', got '%s'", ch.Title)
	}
	if ch.LastIngestedMessageID != 0 {
		t.Errorf("Expected zero cursor, got %d", ch.LastIngestedMessageID)
	}

	if err := repo.UpdateCursor(ctx, 100, 42); err != nil {
		t.Fatalf("UpdateCursor failed: %v", err)
	}

	ch, _ = repo.GetChannel(ctx, 100)
	if ch.LastIngestedMessageID != 42 {
		t.Errorf("Expected cursor 42, got %d", ch.LastIngestedMessageID)
	}

	missing, err := repo.GetChannel(ctx, 999)
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown channel")
	}
}

func TestChannelRepositoryConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	if err := repo.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	cfg := OrganizationConfig{
		ChannelID:                    100,
		Mode:                         ModeAutoCreate,
		TopicStrategy:                StrategyContentType,
		MaxTopicsPerChannel:          25,
		TopicCreationCooldownSeconds: 600,
		ConfidenceThreshold:          0.7,
		GeneralTopicTitle:            "General",
		MaxRetries:                   3,
	}
	if err := repo.UpsertConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertConfig failed: %v", err)
	}

	cfg.MaxTopicsPerChannel = 50
	if err := repo.UpsertConfig(ctx, cfg); err != nil {
		t.Fatalf("Second UpsertConfig failed: %v", err)
	}

	loaded, err := repo.GetConfig(ctx, 100)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected config, got nil")
	}
	if loaded.MaxTopicsPerChannel != 50 {
		t.Errorf("Expected max topics 50, got %d", loaded.MaxTopicsPerChannel)
	}
	if loaded.ConfidenceThreshold != 0.7 {
		t.Errorf("Expected confidence threshold 0.7, got %f", loaded.ConfidenceThreshold)
	}
}

func TestRuleRepositoryOrderingAndEnabled(t *testing.T) {
	db := newTestDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	rules := []ClassificationRule{
		{Name: "eng/documents", Strategy: RuleFileExtension, Pattern: "pdf", Category: "documents", Priority: 50, Enabled: true},
		{Name: "eng/archives", Strategy: RuleFileExtension, Pattern: "zip", Category: "archives", Priority: 100, Enabled: true},
		{Name: "eng/audio", Strategy: RuleFileExtension, Pattern: "mp3", Category: "audio", Priority: 50, Enabled: true},
		{Name: "eng/disabled", Strategy: RuleFileExtension, Pattern: "exe", Category: "software", Priority: 200, Enabled: false},
	}
	for _, rule := range rules {
		if err := repo.UpsertRule(ctx, rule); err != nil {
			t.Fatalf("UpsertRule failed: %v", err)
		}
	}

	enabled, err := repo.GetEnabledRules(ctx)
	if err != nil {
		t.Fatalf("GetEnabledRules failed: %v", err)
	}

	if len(enabled) != 3 {
		t.Fatalf("Expected 3 enabled rules, got %d", len(enabled))
	}
	// Priority descending, insertion order breaks the tie.
	expected := []string{"eng/archives", "eng/documents", "eng/audio"}
	for i, name := range expected {
		if enabled[i].Name != name {
			t.Errorf("Expected rule '%s' at position %d, got '%s'", name, i, enabled[i].Name)
		}
	}
}

func TestScheduleRepositoryMarkRun(t *testing.T) {
	db := newTestDB(t)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	sched := ForwardSchedule{
		Name: "eng/daily", Kind: ScheduleFile, SourceChannelID: 100,
		Destination: "backup_channel", Schedule: "0 3 * * *",
		FileTypes: []string{"pdf", "zip"}, MinSize: 1024, Priority: 5, Enabled: true,
	}
	if err := repo.UpsertSchedule(ctx, sched); err != nil {
		t.Fatalf("UpsertSchedule failed: %v", err)
	}

	enabled, err := repo.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled failed: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("Expected 1 schedule, got %d", len(enabled))
	}
	if enabled[0].LastRunAt != nil {
		t.Error("Expected nil last run for a fresh schedule")
	}
	if len(enabled[0].FileTypes) != 2 || enabled[0].FileTypes[0] != "pdf" {
		t.Errorf("Expected file types to round-trip, got %v", enabled[0].FileTypes)
	}

	ranAt := time.Now().UTC()
	if err := repo.MarkRun(ctx, enabled[0].ID, 77, ranAt); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}

	enabled, _ = repo.ListEnabled(ctx)
	if enabled[0].LastMessageID != 77 {
		t.Errorf("Expected cursor 77, got %d", enabled[0].LastMessageID)
	}
	if enabled[0].LastRunAt == nil {
		t.Error("Expected last run timestamp to be set")
	}
}

func TestQueueEnqueueConflictIgnored(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item := ForwardQueueItem{MessageID: 5, SourceChannelID: 100, Destination: "backup_channel"}

	inserted, err := repo.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first enqueue to insert")
	}

	inserted, err = repo.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Second enqueue failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate (message_id, destination) to be ignored")
	}

	// Same message to a different destination is a distinct item.
	item.Destination = "mirror_channel"
	inserted, err = repo.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Third enqueue failed: %v", err)
	}
	if !inserted {
		t.Error("Expected same message to another destination to insert")
	}
}

func TestQueueClaimOrderingAndExclusivity(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	for _, item := range []ForwardQueueItem{
		{MessageID: 1, SourceChannelID: 100, Destination: "d", Priority: 1},
		{MessageID: 2, SourceChannelID: 100, Destination: "d", Priority: 10},
		{MessageID: 3, SourceChannelID: 100, Destination: "d", Priority: 5},
	} {
		if _, err := repo.Enqueue(ctx, item); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var order []int64
	for {
		item, err := repo.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
		if item == nil {
			break
		}
		if item.Status != QueueInProgress {
			t.Errorf("Expected claimed item to be in_progress, got '%s'", item.Status)
		}
		order = append(order, item.MessageID)
	}

	expected := []int64{2, 3, 1}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d claims, got %d", len(expected), len(order))
	}
	for i, messageID := range expected {
		if order[i] != messageID {
			t.Errorf("Expected message %d at claim %d, got %d", messageID, i, order[i])
		}
	}
}

func TestQueueDeliveryTracking(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item := ForwardQueueItem{MessageID: 5, FileID: 500, SourceChannelID: 100, Destination: "backup_channel"}
	if _, err := repo.Enqueue(ctx, item); err != nil {
		t.Fatal(err)
	}

	delivered, err := repo.WasDelivered(ctx, 500, "backup_channel")
	if err != nil {
		t.Fatalf("WasDelivered failed: %v", err)
	}
	if delivered {
		t.Error("Expected file to not be delivered yet")
	}

	claimed, err := repo.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: item=%v err=%v", claimed, err)
	}
	if err := repo.MarkSuccess(ctx, claimed.ID); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}

	delivered, _ = repo.WasDelivered(ctx, 500, "backup_channel")
	if !delivered {
		t.Error("Expected file to be delivered after success")
	}

	delivered, _ = repo.WasDelivered(ctx, 500, "mirror_channel")
	if delivered {
		t.Error("Delivery is per destination")
	}

	done, err := repo.ListItems(ctx, QueueSuccess, 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(done) != 1 || done[0].Attempts != 1 {
		t.Errorf("Expected 1 successful item with 1 attempt, got %+v", done)
	}
}

func TestQueueStatsRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	statsID, err := repo.OpenStatsRun(ctx, "run-1", nil, "backup_channel")
	if err != nil {
		t.Fatalf("OpenStatsRun failed: %v", err)
	}

	for _, messageID := range []int64{1, 2} {
		item := ForwardQueueItem{
			StatsID: &statsID, MessageID: messageID, FileID: 500 + messageID,
			FileSize: 1024, SourceChannelID: 100, Destination: "backup_channel",
		}
		if _, err := repo.Enqueue(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	closed, err := repo.FinalizeStatsIfDone(ctx, statsID)
	if err != nil {
		t.Fatalf("FinalizeStatsIfDone failed: %v", err)
	}
	if closed {
		t.Error("Run with pending items must not close")
	}

	first, _ := repo.ClaimNext(ctx)
	if err := repo.MarkSuccess(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddStatsDelta(ctx, statsID, 1, 1, first.FileSize); err != nil {
		t.Fatalf("AddStatsDelta failed: %v", err)
	}

	closed, _ = repo.FinalizeStatsIfDone(ctx, statsID)
	if closed {
		t.Error("Run with one unresolved item must not close")
	}

	second, _ := repo.ClaimNext(ctx)
	if err := repo.MarkFailed(ctx, second.ID, "destination rejected message"); err != nil {
		t.Fatal(err)
	}

	closed, err = repo.FinalizeStatsIfDone(ctx, statsID)
	if err != nil {
		t.Fatalf("FinalizeStatsIfDone failed: %v", err)
	}
	if !closed {
		t.Error("Expected run to close once all items resolved")
	}

	run, err := repo.GetStatsRun(ctx, statsID)
	if err != nil {
		t.Fatalf("GetStatsRun failed: %v", err)
	}
	if run.Status != StatsFailed {
		t.Errorf("Expected run status 'failed', got '%s'", run.Status)
	}
	if run.MessagesForwarded != 1 || run.FilesForwarded != 1 || run.BytesForwarded != 1024 {
		t.Errorf("Unexpected run counters: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("Expected finished timestamp on a closed run")
	}
}

func TestOrganizeApplyFullPlan(t *testing.T) {
	db := newTestDB(t)
	channels := NewChannelRepository(db)
	repo := NewOrganizeRepository(db)
	ctx := context.Background()

	if err := channels.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	topicID := int64(900)
	createdAt := time.Now().UTC()
	plan := AssignmentPlan{
		Metadata: ContentMetadata{
			MessageID: 5, ChannelID: 100, ContentType: "document",
			Category: "documents", FileExtension: "pdf", FileSize: 2048,
			Confidence: 1.0, MatchedRule: "eng/documents",
		},
		NewTopic: &ForumTopic{
			ChannelID: 100, TopicID: topicID, Title: "Documents", Category: "documents",
		},
		Assignment: &TopicAssignment{
			MessageID: 5, ChannelID: 100, TopicID: &topicID,
			Category: "documents", Method: MethodAuto, Confidence: 1.0,
		},
		Inventory:      &InventoryEntry{ChannelID: 100, FileID: 500, MessageID: 5},
		TopicFile:      &TopicFileMapping{ChannelID: 100, TopicID: topicID, FileID: 500, MessageID: 5},
		TopicCreatedAt: &createdAt,
	}

	if err := repo.Apply(ctx, plan); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	topic, err := repo.GetTopicByCategory(ctx, 100, "documents")
	if err != nil {
		t.Fatalf("GetTopicByCategory failed: %v", err)
	}
	if topic == nil || topic.TopicID != topicID {
		t.Fatalf("Expected topic %d, got %+v", topicID, topic)
	}

	assignment, err := repo.GetAssignment(ctx, 100, 5)
	if err != nil {
		t.Fatalf("GetAssignment failed: %v", err)
	}
	if assignment == nil || assignment.TopicID == nil || *assignment.TopicID != topicID {
		t.Fatalf("Expected assignment to topic %d, got %+v", topicID, assignment)
	}

	meta, err := repo.GetMetadata(ctx, 100, 5)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta == nil || meta.Category != "documents" {
		t.Fatalf("Expected metadata for message 5, got %+v", meta)
	}

	ch, _ := channels.GetChannel(ctx, 100)
	if ch.LastTopicCreatedAt == nil {
		t.Error("Expected topic creation timestamp on the channel")
	}

	count, err := repo.CountActiveTopics(ctx, 100)
	if err != nil {
		t.Fatalf("CountActiveTopics failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 active topic, got %d", count)
	}
}

func TestOrganizeApplyTouchTopicBumpsCounters(t *testing.T) {
	db := newTestDB(t)
	channels := NewChannelRepository(db)
	repo := NewOrganizeRepository(db)
	ctx := context.Background()

	if err := channels.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	topicID := int64(900)
	if err := repo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 1, ChannelID: 100, Category: "documents"},
		NewTopic: &ForumTopic{ChannelID: 100, TopicID: topicID, Title: "Documents", Category: "documents"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := repo.Apply(ctx, AssignmentPlan{
		Metadata:     ContentMetadata{MessageID: 2, ChannelID: 100, Category: "documents"},
		TouchTopicID: &topicID,
	}); err != nil {
		t.Fatal(err)
	}

	topic, _ := repo.GetTopicByCategory(ctx, 100, "documents")
	if topic.MessageCount != 1 {
		t.Errorf("Expected message count 1 after touch, got %d", topic.MessageCount)
	}
}

func TestRetryLedgerLifecycle(t *testing.T) {
	db := newTestDB(t)
	channels := NewChannelRepository(db)
	organizeRepo := NewOrganizeRepository(db)
	repo := NewRetryRepository(db)
	ctx := context.Background()

	if err := channels.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := organizeRepo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 5, ChannelID: 100, Category: "documents"},
		Failure: &TopicCreationFailure{
			ChannelID: 100, IntendedTitle: "Documents", Category: "documents", ErrorType: "transient",
		},
		Retry: &RetryEntry{
			MessageID: 5, ChannelID: 100, Category: "documents", ErrorType: "transient",
			MaxRetries: 3, NextRetryAt: now.Add(-time.Minute),
		},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := repo.ClaimDue(ctx, now, 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 due entry, got %d", len(entries))
	}
	entry := entries[0]

	// Leased entries are invisible to a concurrent sweeper.
	again, err := repo.ClaimDue(ctx, now, 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("Second ClaimDue failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected leased entry to be hidden, got %d entries", len(again))
	}

	next := now.Add(time.Hour)
	if err := repo.RecordAttemptFailure(ctx, entry, next); err != nil {
		t.Fatalf("RecordAttemptFailure failed: %v", err)
	}

	entries, _ = repo.ClaimDue(ctx, now, 5*time.Minute, 10)
	if len(entries) != 0 {
		t.Error("Expected rescheduled entry to not be due yet")
	}

	entries, err = repo.ClaimDue(ctx, next.Add(time.Second), 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("ClaimDue after backoff failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected entry due after backoff, got %d", len(entries))
	}
	if entries[0].RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", entries[0].RetryCount)
	}

	if err := repo.Exhaust(ctx, entries[0]); err != nil {
		t.Fatalf("Exhaust failed: %v", err)
	}

	count, err := repo.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty ledger after exhaustion, got %d entries", count)
	}

	// The failure log is the permanent record and stays unresolved.
	failures, err := organizeRepo.ListUnresolvedFailures(ctx, 100)
	if err != nil {
		t.Fatalf("ListUnresolvedFailures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 unresolved failure, got %d", len(failures))
	}
	if failures[0].RetryCount != 3 {
		t.Errorf("Expected failure retry count 3, got %d", failures[0].RetryCount)
	}
}

func TestOrganizeApplyResolvesRetryAndFailure(t *testing.T) {
	db := newTestDB(t)
	channels := NewChannelRepository(db)
	organizeRepo := NewOrganizeRepository(db)
	retries := NewRetryRepository(db)
	ctx := context.Background()

	if err := channels.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := organizeRepo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 5, ChannelID: 100, Category: "documents"},
		Failure: &TopicCreationFailure{
			ChannelID: 100, IntendedTitle: "Documents", Category: "documents", ErrorType: "transient",
		},
		Retry: &RetryEntry{
			MessageID: 5, ChannelID: 100, Category: "documents", ErrorType: "transient",
			MaxRetries: 3, NextRetryAt: now,
		},
	}); err != nil {
		t.Fatal(err)
	}

	entries, _ := retries.ListEntries(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 ledger entry, got %d", len(entries))
	}

	topicID := int64(900)
	if err := organizeRepo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 5, ChannelID: 100, Category: "documents"},
		NewTopic: &ForumTopic{ChannelID: 100, TopicID: topicID, Title: "Documents", Category: "documents"},
		Assignment: &TopicAssignment{
			MessageID: 5, ChannelID: 100, TopicID: &topicID,
			Category: "documents", Method: MethodAuto, Confidence: 1.0,
		},
		ResolveRetryID: &entries[0].ID,
		ResolveFailure: &FailureKey{ChannelID: 100, Category: "documents"},
	}); err != nil {
		t.Fatalf("Resolving apply failed: %v", err)
	}

	count, _ := retries.CountEntries(ctx)
	if count != 0 {
		t.Errorf("Expected ledger entry removed, got %d entries", count)
	}

	failures, _ := organizeRepo.ListUnresolvedFailures(ctx, 100)
	if len(failures) != 0 {
		t.Errorf("Expected failures resolved, got %d", len(failures))
	}
}

func TestStatsRollupIdempotent(t *testing.T) {
	db := newTestDB(t)
	channels := NewChannelRepository(db)
	organizeRepo := NewOrganizeRepository(db)
	repo := NewStatsRepository(db)
	ctx := context.Background()

	if err := channels.UpsertChannel(ctx, 100, "Engineering"); err != nil {
		t.Fatal(err)
	}

	topicID := int64(900)
	if err := organizeRepo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 1, ChannelID: 100, Category: "documents"},
		NewTopic: &ForumTopic{ChannelID: 100, TopicID: topicID, Title: "Documents", Category: "documents"},
		Assignment: &TopicAssignment{
			MessageID: 1, ChannelID: 100, TopicID: &topicID,
			Category: "documents", Method: MethodAuto, Confidence: 1.0,
		},
		Inventory: &InventoryEntry{ChannelID: 100, FileID: 500, MessageID: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := organizeRepo.Apply(ctx, AssignmentPlan{
		Metadata: ContentMetadata{MessageID: 2, ChannelID: 100, Category: "links"},
		Assignment: &TopicAssignment{
			MessageID: 2, ChannelID: 100, Category: "general",
			Method: MethodFallback, Confidence: 0.3, FallbackUsed: true,
		},
	}); err != nil {
		t.Fatal(err)
	}

	date := time.Now().UTC().Format("2006-01-02")

	for i := 0; i < 2; i++ {
		if err := repo.RollupDay(ctx, 100, date); err != nil {
			t.Fatalf("RollupDay failed: %v", err)
		}
		if err := repo.RollupTopics(ctx, 100, date); err != nil {
			t.Fatalf("RollupTopics failed: %v", err)
		}
	}

	stats, err := repo.GetChannelStats(ctx, 100, date)
	if err != nil {
		t.Fatalf("GetChannelStats failed: %v", err)
	}
	if stats == nil {
		t.Fatal("Expected stats row, got nil")
	}
	if stats.MessagesClassified != 2 {
		t.Errorf("Expected 2 classified messages, got %d", stats.MessagesClassified)
	}
	if stats.TopicsCreated != 1 {
		t.Errorf("Expected 1 created topic, got %d", stats.TopicsCreated)
	}
	if stats.AutoAssignments != 1 || stats.FallbackAssignments != 1 {
		t.Errorf("Expected 1 auto and 1 fallback assignment, got %d and %d", stats.AutoAssignments, stats.FallbackAssignments)
	}
	if stats.FilesDeduplicated != 1 {
		t.Errorf("Expected 1 inventory entry, got %d", stats.FilesDeduplicated)
	}

	usage, err := repo.ListTopicUsage(ctx, 100, date)
	if err != nil {
		t.Fatalf("ListTopicUsage failed: %v", err)
	}
	if len(usage) != 1 || usage[0].MessageCount != 1 {
		t.Errorf("Expected 1 usage row with count 1, got %+v", usage)
	}

	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Channels != 1 || summary.Topics != 1 || summary.Assignments != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestDedupRepositoryLookups(t *testing.T) {
	db := newTestDB(t)
	repo := NewDedupRepository(db)
	ctx := context.Background()

	hashes := []FileHash{
		{FileID: 1, SHA256: "aaa", PerceptualHash: "f0f0", FuzzyHash: ""},
		{FileID: 2, SHA256: "aaa", PerceptualHash: "f0f0", FuzzyHash: ""},
		{FileID: 3, SHA256: "bbb", PerceptualHash: "", FuzzyHash: "3:abc:def"},
	}
	for _, fh := range hashes {
		if err := repo.Insert(ctx, fh); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	fh, err := repo.GetByFileID(ctx, 2)
	if err != nil {
		t.Fatalf("GetByFileID failed: %v", err)
	}
	if fh == nil || fh.SHA256 != "aaa" {
		t.Fatalf("Expected hash for file 2, got %+v", fh)
	}

	twin, err := repo.FindBySHA256(ctx, "aaa", 2)
	if err != nil {
		t.Fatalf("FindBySHA256 failed: %v", err)
	}
	if twin == nil || twin.FileID != 1 {
		t.Errorf("Expected twin file 1, got %+v", twin)
	}

	perceptual, err := repo.ListPerceptual(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListPerceptual failed: %v", err)
	}
	if len(perceptual) != 1 || perceptual[0].FileID != 2 {
		t.Errorf("Expected only file 2 with a perceptual hash, got %+v", perceptual)
	}

	fuzzy, err := repo.ListFuzzy(ctx, 99, 10)
	if err != nil {
		t.Fatalf("ListFuzzy failed: %v", err)
	}
	if len(fuzzy) != 1 || fuzzy[0].FileID != 3 {
		t.Errorf("Expected only file 3 with a fuzzy hash, got %+v", fuzzy)
	}
}

func TestMigrationRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewMigrationRepository(db)
	ctx := context.Background()

	if _, err := repo.Create(ctx, MigrationProgress{
		RunID: "run-1", SourceChannelID: 100, Destination: "backup_channel", Status: MigrationQueued,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	progress, err := repo.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if progress == nil || progress.Status != MigrationQueued {
		t.Fatalf("Expected queued run, got %+v", progress)
	}

	if err := repo.UpdateProgress(ctx, "run-1", 250, MigrationInProgress); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	progress, _ = repo.GetByRunID(ctx, "run-1")
	if progress.LastMessageID != 250 || progress.Status != MigrationInProgress {
		t.Errorf("Expected cursor 250 in progress, got %+v", progress)
	}

	if err := repo.Finish(ctx, "run-1", MigrationCompleted); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	progress, _ = repo.GetByRunID(ctx, "run-1")
	if progress.Status != MigrationCompleted {
		t.Errorf("Expected status 'completed', got '%s'", progress.Status)
	}
	if progress.FinishedAt == nil {
		t.Error("Expected finished timestamp")
	}

	missing, err := repo.GetByRunID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown run id")
	}
}
