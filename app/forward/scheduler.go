package forward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
)

const defaultFetchLimit = 200

// Scheduler evaluates cron-defined forward schedules and enqueues due
// messages. Each run opens a stats row that the queue worker closes once
// every item of the run is resolved.
type Scheduler struct {
	schedules  database.ScheduleRepository
	queue      database.QueueRepository
	dedup      database.DedupRepository
	metadata   database.OrganizeRepository
	source     content.MessageSource
	fetchLimit int
	now        func() time.Time
}

func NewScheduler(schedules database.ScheduleRepository, queue database.QueueRepository, dedup database.DedupRepository, metadata database.OrganizeRepository, source content.MessageSource) *Scheduler {
	return &Scheduler{
		schedules:  schedules,
		queue:      queue,
		dedup:      dedup,
		metadata:   metadata,
		source:     source,
		fetchLimit: defaultFetchLimit,
		now:        time.Now,
	}
}

// Tick runs every enabled schedule whose cron expression is due. Schedules
// with unparseable expressions are skipped and logged, never fatal.
func (s *Scheduler) Tick(ctx context.Context) error {
	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	for _, sched := range schedules {
		due, err := s.isDue(sched, now)
		if err != nil {
			slog.Error("Invalid forward schedule expression", "name", sched.Name, "schedule", sched.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}

		if err := s.runSchedule(ctx, sched, now); err != nil {
			slog.Error("Forward schedule run failed", "name", sched.Name, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) isDue(sched database.ForwardSchedule, now time.Time) (bool, error) {
	expr, err := cron.ParseStandard(sched.Schedule)
	if err != nil {
		return false, err
	}
	if sched.LastRunAt == nil {
		return true, nil
	}
	return !expr.Next(sched.LastRunAt.UTC()).After(now), nil
}

// runSchedule fetches messages past the schedule's cursor, enqueues the
// ones that pass its filters and advances the cursor. The cursor moves
// only after the batch is enqueued, so a crash re-reads rather than skips.
func (s *Scheduler) runSchedule(ctx context.Context, sched database.ForwardSchedule, now time.Time) error {
	start := time.Now()

	messages, err := s.source.Fetch(ctx, sched.SourceChannelID, sched.LastMessageID, s.fetchLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch messages for schedule '%s': %w", sched.Name, err)
	}

	if len(messages) == 0 {
		return s.schedules.MarkRun(ctx, sched.ID, sched.LastMessageID, now)
	}

	statsID, err := s.queue.OpenStatsRun(ctx, uuid.NewString(), &sched.ID, sched.Destination)
	if err != nil {
		return err
	}

	var (
		enqueued      int
		skipped       int
		lastMessageID = sched.LastMessageID
	)
	for _, msg := range messages {
		if msg.MessageID > lastMessageID {
			lastMessageID = msg.MessageID
		}

		ok, err := s.admit(ctx, sched, msg)
		if err != nil {
			return err
		}
		if !ok {
			skipped++
			continue
		}

		item := database.ForwardQueueItem{
			ScheduleID:      &sched.ID,
			StatsID:         &statsID,
			MessageID:       msg.MessageID,
			SourceChannelID: sched.SourceChannelID,
			Destination:     sched.Destination,
			Priority:        sched.Priority,
		}
		if msg.File != nil {
			item.FileID = msg.File.FileID
			item.FileSize = msg.File.Size
		}

		inserted, err := s.queue.Enqueue(ctx, item)
		if err != nil {
			return err
		}
		if inserted {
			enqueued++
		} else {
			skipped++
		}
	}

	if err := s.schedules.MarkRun(ctx, sched.ID, lastMessageID, now); err != nil {
		return err
	}

	// A run where every message was filtered or deduplicated has no queue
	// items; close its stats row right away.
	if _, err := s.queue.FinalizeStatsIfDone(ctx, statsID); err != nil {
		return err
	}

	slog.Info("Task completed", "type", "forward_schedule", "name", sched.Name,
		"enqueued", enqueued, "skipped", skipped, "cursor", lastMessageID,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// admit applies the schedule's filters plus the duplicate delivery check.
func (s *Scheduler) admit(ctx context.Context, sched database.ForwardSchedule, msg content.Message) (bool, error) {
	if sched.Kind == database.ScheduleFile {
		if msg.File == nil {
			return false, nil
		}
		ok, err := s.matchFileFilters(ctx, sched, msg)
		if err != nil || !ok {
			return false, err
		}
	}

	if msg.File != nil {
		dup, err := s.alreadyDelivered(ctx, msg.File.FileID, sched.Destination)
		if err != nil {
			return false, err
		}
		if dup {
			slog.Debug("Skipping duplicate file", "file_id", msg.File.FileID, "destination", sched.Destination)
			return false, nil
		}
	}

	return true, nil
}

func (s *Scheduler) matchFileFilters(ctx context.Context, sched database.ForwardSchedule, msg content.Message) (bool, error) {
	f := msg.File

	if sched.MinSize > 0 && f.Size < sched.MinSize {
		return false, nil
	}
	if sched.MaxSize > 0 && f.Size > sched.MaxSize {
		return false, nil
	}
	if len(sched.FileTypes) == 0 {
		return true, nil
	}

	contentType := ""
	meta, err := s.metadata.GetMetadata(ctx, msg.ChannelID, msg.MessageID)
	if err != nil {
		return false, err
	}
	if meta != nil {
		contentType = meta.ContentType
	}

	ext := f.Extension()
	for _, t := range sched.FileTypes {
		if t == ext || t == contentType {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) alreadyDelivered(ctx context.Context, fileID int64, destination string) (bool, error) {
	return AlreadyDelivered(ctx, s.queue, s.dedup, fileID, destination)
}
