package retry

import (
	"context"
	"testing"
	"time"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/organize"
)

type fakeRetryRepo struct {
	due         []database.RetryEntry
	exhausted   []database.RetryEntry
	rescheduled []database.RetryEntry
	nextRetryAt time.Time
}

func (r *fakeRetryRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]database.RetryEntry, error) {
	return r.due, nil
}

func (r *fakeRetryRepo) RecordAttemptFailure(ctx context.Context, entry database.RetryEntry, nextRetryAt time.Time) error {
	r.rescheduled = append(r.rescheduled, entry)
	r.nextRetryAt = nextRetryAt
	return nil
}

func (r *fakeRetryRepo) Exhaust(ctx context.Context, entry database.RetryEntry) error {
	r.exhausted = append(r.exhausted, entry)
	return nil
}

func (r *fakeRetryRepo) ListEntries(ctx context.Context, limit int) ([]database.RetryEntry, error) {
	return nil, nil
}

func (r *fakeRetryRepo) CountEntries(ctx context.Context) (int, error) {
	return len(r.due), nil
}

type fakeChannelRepo struct{}

func (fakeChannelRepo) UpsertChannel(ctx context.Context, channelID int64, title string) error {
	return nil
}

func (fakeChannelRepo) GetChannel(ctx context.Context, channelID int64) (*database.Channel, error) {
	return &database.Channel{ChannelID: channelID}, nil
}

func (fakeChannelRepo) ListChannels(ctx context.Context) ([]database.Channel, error) {
	return nil, nil
}

func (fakeChannelRepo) UpdateCursor(ctx context.Context, channelID, lastMessageID int64) error {
	return nil
}

func (fakeChannelRepo) UpsertConfig(ctx context.Context, cfg database.OrganizationConfig) error {
	return nil
}

func (fakeChannelRepo) GetConfig(ctx context.Context, channelID int64) (*database.OrganizationConfig, error) {
	return &database.OrganizationConfig{
		ChannelID:           channelID,
		Mode:                database.ModeAutoCreate,
		TopicStrategy:       database.StrategyContentType,
		ConfidenceThreshold: 0.5,
		MaxRetries:          3,
	}, nil
}

type fakeOrganizeRepo struct {
	metadata map[int64]*database.ContentMetadata
	applied  int
}

func (r *fakeOrganizeRepo) Apply(ctx context.Context, plan database.AssignmentPlan) error {
	r.applied++
	return nil
}

func (r *fakeOrganizeRepo) GetTopicByCategory(ctx context.Context, channelID int64, category string) (*database.ForumTopic, error) {
	return nil, nil
}

func (r *fakeOrganizeRepo) CountActiveTopics(ctx context.Context, channelID int64) (int, error) {
	return 0, nil
}

func (r *fakeOrganizeRepo) ListTopics(ctx context.Context, channelID int64) ([]database.ForumTopic, error) {
	return nil, nil
}

func (r *fakeOrganizeRepo) GetAssignment(ctx context.Context, channelID, messageID int64) (*database.TopicAssignment, error) {
	return nil, nil
}

func (r *fakeOrganizeRepo) ListAssignments(ctx context.Context, channelID int64, limit int) ([]database.TopicAssignment, error) {
	return nil, nil
}

func (r *fakeOrganizeRepo) GetMetadata(ctx context.Context, channelID, messageID int64) (*database.ContentMetadata, error) {
	return r.metadata[messageID], nil
}

func (r *fakeOrganizeRepo) ListMetadata(ctx context.Context, channelID int64) ([]database.ContentMetadata, error) {
	return nil, nil
}

func (r *fakeOrganizeRepo) ListUnresolvedFailures(ctx context.Context, channelID int64) ([]database.TopicCreationFailure, error) {
	return nil, nil
}

type fakeManager struct {
	err error
}

func (m *fakeManager) CreateTopic(ctx context.Context, channelID int64, title string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return 900, nil
}

func newSweeper(retries *fakeRetryRepo, manager *fakeManager, metadata map[int64]*database.ContentMetadata) *Sweeper {
	orgRepo := &fakeOrganizeRepo{metadata: metadata}
	engine := organize.NewEngine(orgRepo, fakeChannelRepo{}, manager, time.Second)
	return NewSweeper(retries, fakeChannelRepo{}, engine)
}

func dueEntry(retryCount int) database.RetryEntry {
	return database.RetryEntry{
		ID: 10, MessageID: 5, ChannelID: 100, Category: "documents",
		RetryCount: retryCount, MaxRetries: 3,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	}
}

func TestSweepResolvesSuccessfulRetry(t *testing.T) {
	retries := &fakeRetryRepo{due: []database.RetryEntry{dueEntry(1)}}
	metadata := map[int64]*database.ContentMetadata{
		5: {MessageID: 5, ChannelID: 100, Category: "documents", Confidence: 1.0},
	}

	sweeper := newSweeper(retries, &fakeManager{}, metadata)

	resolved, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if resolved != 1 {
		t.Errorf("Expected 1 resolved entry, got %d", resolved)
	}
	if len(retries.exhausted) != 0 || len(retries.rescheduled) != 0 {
		t.Error("Successful retries must not be exhausted or rescheduled")
	}
}

func TestSweepReschedulesTransientFailure(t *testing.T) {
	retries := &fakeRetryRepo{due: []database.RetryEntry{dueEntry(0)}}
	metadata := map[int64]*database.ContentMetadata{
		5: {MessageID: 5, ChannelID: 100, Category: "documents", Confidence: 1.0},
	}

	manager := &fakeManager{err: &content.TransientError{Reason: "flood limit"}}
	sweeper := newSweeper(retries, manager, metadata)

	resolved, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if resolved != 0 {
		t.Errorf("Expected no resolved entries, got %d", resolved)
	}
	if len(retries.rescheduled) != 1 {
		t.Fatalf("Expected 1 rescheduled entry, got %d", len(retries.rescheduled))
	}
	if !retries.nextRetryAt.After(time.Now().UTC()) {
		t.Error("Rescheduled retry must be in the future")
	}
	if len(retries.exhausted) != 0 {
		t.Error("Entry with remaining retries must not be exhausted")
	}
}

func TestSweepExhaustsAtMaxRetries(t *testing.T) {
	// retry_count 2 of max 3: this attempt is the last one.
	retries := &fakeRetryRepo{due: []database.RetryEntry{dueEntry(2)}}
	metadata := map[int64]*database.ContentMetadata{
		5: {MessageID: 5, ChannelID: 100, Category: "documents", Confidence: 1.0},
	}

	manager := &fakeManager{err: &content.TransientError{Reason: "still failing"}}
	sweeper := newSweeper(retries, manager, metadata)

	if _, err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(retries.exhausted) != 1 {
		t.Fatalf("Expected the entry to be exhausted, got %d", len(retries.exhausted))
	}
	if len(retries.rescheduled) != 0 {
		t.Error("Exhausted entries must not be rescheduled")
	}
}

func TestSweepExhaustsPermanentFailureImmediately(t *testing.T) {
	retries := &fakeRetryRepo{due: []database.RetryEntry{dueEntry(0)}}
	metadata := map[int64]*database.ContentMetadata{
		5: {MessageID: 5, ChannelID: 100, Category: "documents", Confidence: 1.0},
	}

	manager := &fakeManager{err: &content.PermanentError{Reason: "chat is not a forum"}}
	sweeper := newSweeper(retries, manager, metadata)

	if _, err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(retries.exhausted) != 1 {
		t.Errorf("Permanent failures should exhaust on the first sweep, got %d", len(retries.exhausted))
	}
}
