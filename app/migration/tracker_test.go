package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
)

type fakeMigrationRepo struct {
	runs     map[string]*database.MigrationProgress
	progress []int64
}

func newFakeMigrationRepo() *fakeMigrationRepo {
	return &fakeMigrationRepo{runs: make(map[string]*database.MigrationProgress)}
}

func (r *fakeMigrationRepo) Create(ctx context.Context, m database.MigrationProgress) (int64, error) {
	m.ID = int64(len(r.runs) + 1)
	r.runs[m.RunID] = &m
	return m.ID, nil
}

func (r *fakeMigrationRepo) GetByRunID(ctx context.Context, runID string) (*database.MigrationProgress, error) {
	if m, ok := r.runs[runID]; ok {
		snapshot := *m
		return &snapshot, nil
	}
	return nil, nil
}

func (r *fakeMigrationRepo) List(ctx context.Context, limit int) ([]database.MigrationProgress, error) {
	return nil, nil
}

func (r *fakeMigrationRepo) UpdateProgress(ctx context.Context, runID string, lastMessageID int64, status string) error {
	r.runs[runID].LastMessageID = lastMessageID
	r.runs[runID].Status = status
	r.progress = append(r.progress, lastMessageID)
	return nil
}

func (r *fakeMigrationRepo) Finish(ctx context.Context, runID, status string) error {
	r.runs[runID].Status = status
	return nil
}

type fakeQueueRepo struct {
	enqueued  []database.ForwardQueueItem
	queued    map[int64]bool
	delivered map[string]bool
	opened    int
	finalized int
}

func (r *fakeQueueRepo) Enqueue(ctx context.Context, item database.ForwardQueueItem) (bool, error) {
	if r.queued == nil {
		r.queued = make(map[int64]bool)
	}
	if r.queued[item.MessageID] {
		return false, nil
	}
	r.queued[item.MessageID] = true
	r.enqueued = append(r.enqueued, item)
	return true, nil
}

func (r *fakeQueueRepo) ClaimNext(ctx context.Context) (*database.ForwardQueueItem, error) {
	return nil, nil
}

func (r *fakeQueueRepo) MarkSuccess(ctx context.Context, id int64) error { return nil }

func (r *fakeQueueRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return nil
}

func (r *fakeQueueRepo) Requeue(ctx context.Context, id int64, lastError string) error { return nil }

func (r *fakeQueueRepo) WasDelivered(ctx context.Context, fileID int64, destination string) (bool, error) {
	return r.delivered[fmt.Sprintf("%d|%s", fileID, destination)], nil
}

func (r *fakeQueueRepo) ListItems(ctx context.Context, status string, limit int) ([]database.ForwardQueueItem, error) {
	return nil, nil
}

func (r *fakeQueueRepo) OpenStatsRun(ctx context.Context, runID string, scheduleID *int64, destination string) (int64, error) {
	r.opened++
	return int64(r.opened), nil
}

func (r *fakeQueueRepo) AddStatsDelta(ctx context.Context, statsID int64, messages, files int, bytes int64) error {
	return nil
}

func (r *fakeQueueRepo) FinalizeStatsIfDone(ctx context.Context, statsID int64) (bool, error) {
	r.finalized++
	return true, nil
}

func (r *fakeQueueRepo) GetStatsRun(ctx context.Context, statsID int64) (*database.ForwardStats, error) {
	return nil, nil
}

func (r *fakeQueueRepo) ListStatsRuns(ctx context.Context, limit int) ([]database.ForwardStats, error) {
	return nil, nil
}

type fakeDedupRepo struct {
	byFileID map[int64]*database.FileHash
}

func (r *fakeDedupRepo) GetByFileID(ctx context.Context, fileID int64) (*database.FileHash, error) {
	return r.byFileID[fileID], nil
}

func (r *fakeDedupRepo) Insert(ctx context.Context, fh database.FileHash) error { return nil }

func (r *fakeDedupRepo) FindBySHA256(ctx context.Context, sha256 string, excludeFileID int64) (*database.FileHash, error) {
	for id, fh := range r.byFileID {
		if id != excludeFileID && fh.SHA256 == sha256 {
			return fh, nil
		}
	}
	return nil, nil
}

func (r *fakeDedupRepo) ListPerceptual(ctx context.Context, excludeFileID int64, limit int) ([]database.FileHash, error) {
	return nil, nil
}

func (r *fakeDedupRepo) ListFuzzy(ctx context.Context, excludeFileID int64, limit int) ([]database.FileHash, error) {
	return nil, nil
}

type fakeSource struct {
	messages []content.Message
	err      error
}

func (s *fakeSource) Fetch(ctx context.Context, channelID, sinceMessageID int64, limit int) ([]content.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []content.Message
	for _, msg := range s.messages {
		if msg.MessageID <= sinceMessageID {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func historyMessages(count int) []content.Message {
	messages := make([]content.Message, count)
	for i := range messages {
		messages[i] = content.Message{MessageID: int64(i + 1), ChannelID: 100}
	}
	return messages
}

func TestRunCopiesHistoryInBatches(t *testing.T) {
	migrations := newFakeMigrationRepo()
	queue := &fakeQueueRepo{}
	tracker := NewTracker(migrations, queue, &fakeDedupRepo{}, &fakeSource{messages: historyMessages(5)})
	tracker.batchSize = 2

	runID, err := tracker.Start(context.Background(), 100, "archive_channel")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(queue.enqueued) != 5 {
		t.Errorf("Expected 5 enqueued messages, got %d", len(queue.enqueued))
	}
	if migrations.runs[runID].Status != database.MigrationCompleted {
		t.Errorf("Expected status 'completed', got '%s'", migrations.runs[runID].Status)
	}
	if migrations.runs[runID].LastMessageID != 5 {
		t.Errorf("Expected cursor at message 5, got %d", migrations.runs[runID].LastMessageID)
	}
	if queue.finalized != 1 {
		t.Errorf("Expected 1 stats finalization, got %d", queue.finalized)
	}
}

func TestRunCheckpointsPerBatch(t *testing.T) {
	migrations := newFakeMigrationRepo()
	tracker := NewTracker(migrations, &fakeQueueRepo{}, &fakeDedupRepo{}, &fakeSource{messages: historyMessages(5)})
	tracker.batchSize = 2

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")
	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Initial in_progress mark plus one checkpoint per non-empty batch.
	expected := []int64{0, 2, 4, 5}
	if len(migrations.progress) != len(expected) {
		t.Fatalf("Expected %d progress updates, got %d: %v", len(expected), len(migrations.progress), migrations.progress)
	}
	for i, cursor := range expected {
		if migrations.progress[i] != cursor {
			t.Errorf("Expected checkpoint %d at cursor %d, got %d", i, cursor, migrations.progress[i])
		}
	}
}

func TestRunResumesFromCursor(t *testing.T) {
	migrations := newFakeMigrationRepo()
	queue := &fakeQueueRepo{}
	tracker := NewTracker(migrations, queue, &fakeDedupRepo{}, &fakeSource{messages: historyMessages(6)})
	tracker.batchSize = 10

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")
	migrations.runs[runID].LastMessageID = 4
	migrations.runs[runID].Status = database.MigrationInProgress

	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(queue.enqueued) != 2 {
		t.Fatalf("Expected 2 enqueued messages past the cursor, got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].MessageID != 5 || queue.enqueued[1].MessageID != 6 {
		t.Errorf("Expected messages 5 and 6, got %+v", queue.enqueued)
	}
}

func TestRunSkipsDeliveredFile(t *testing.T) {
	migrations := newFakeMigrationRepo()
	queue := &fakeQueueRepo{delivered: map[string]bool{"500|archive_channel": true}}
	source := &fakeSource{messages: []content.Message{
		{MessageID: 1, ChannelID: 100, File: &content.File{FileID: 500, Size: 1024}},
		{MessageID: 2, ChannelID: 100, File: &content.File{FileID: 501, Size: 2048}},
	}}
	tracker := NewTracker(migrations, queue, &fakeDedupRepo{}, source)

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")
	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("Expected 1 enqueued message, got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].FileID != 501 {
		t.Errorf("Expected file 501, got %d", queue.enqueued[0].FileID)
	}
	if migrations.runs[runID].LastMessageID != 2 {
		t.Errorf("Expected cursor at message 2, got %d", migrations.runs[runID].LastMessageID)
	}
}

func TestRunSkipsDeliveredContentTwin(t *testing.T) {
	migrations := newFakeMigrationRepo()
	queue := &fakeQueueRepo{delivered: map[string]bool{"90|archive_channel": true}}
	dedup := &fakeDedupRepo{byFileID: map[int64]*database.FileHash{
		90:  {FileID: 90, SHA256: "abc123"},
		500: {FileID: 500, SHA256: "abc123"},
	}}
	source := &fakeSource{messages: []content.Message{
		{MessageID: 1, ChannelID: 100, File: &content.File{FileID: 500, Size: 1024}},
	}}
	tracker := NewTracker(migrations, queue, dedup, source)

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")
	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(queue.enqueued) != 0 {
		t.Errorf("Expected no enqueued messages for a delivered content twin, got %d", len(queue.enqueued))
	}
	if migrations.runs[runID].Status != database.MigrationCompleted {
		t.Errorf("Expected status 'completed', got '%s'", migrations.runs[runID].Status)
	}
}

func TestRunCompletedRunIsNoOp(t *testing.T) {
	migrations := newFakeMigrationRepo()
	queue := &fakeQueueRepo{}
	tracker := NewTracker(migrations, queue, &fakeDedupRepo{}, &fakeSource{messages: historyMessages(3)})

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")
	migrations.runs[runID].Status = database.MigrationCompleted

	if err := tracker.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("Expected no messages for a completed run, got %d", len(queue.enqueued))
	}
}

func TestRunUnknownRunID(t *testing.T) {
	tracker := NewTracker(newFakeMigrationRepo(), &fakeQueueRepo{}, &fakeDedupRepo{}, &fakeSource{})

	if err := tracker.Run(context.Background(), "missing"); err == nil {
		t.Error("Expected error for unknown run id")
	}
}

func TestRunFetchErrorMarksFailed(t *testing.T) {
	migrations := newFakeMigrationRepo()
	tracker := NewTracker(migrations, &fakeQueueRepo{}, &fakeDedupRepo{}, &fakeSource{err: errors.New("source unavailable")})

	runID, _ := tracker.Start(context.Background(), 100, "archive_channel")

	if err := tracker.Run(context.Background(), runID); err == nil {
		t.Fatal("Expected fetch error to propagate")
	}
	if migrations.runs[runID].Status != database.MigrationFailed {
		t.Errorf("Expected status 'failed', got '%s'", migrations.runs[runID].Status)
	}
}
