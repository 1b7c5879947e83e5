package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/organize"
)

const (
	defaultBatchSize = 50
	defaultLease     = 5 * time.Minute
)

// Sweeper drains due entries from the organization retry ledger and hands
// them back to the assignment engine for another topic creation attempt.
type Sweeper struct {
	retries  database.RetryRepository
	channels database.ChannelRepository
	engine   *organize.Engine
	batch    int
	lease    time.Duration
	now      func() time.Time
}

func NewSweeper(retries database.RetryRepository, channels database.ChannelRepository, engine *organize.Engine) *Sweeper {
	return &Sweeper{
		retries:  retries,
		channels: channels,
		engine:   engine,
		batch:    defaultBatchSize,
		lease:    defaultLease,
		now:      time.Now,
	}
}

// Sweep claims all due ledger entries and retries each one. It returns the
// number of entries resolved. A failed attempt either reschedules the entry
// with exponential backoff or, once retries run out, removes it and leaves
// the failure log entry unresolved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()

	entries, err := s.retries.ClaimDue(ctx, now, s.lease, s.batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, entry := range entries {
		if err := s.retryOne(ctx, entry); err != nil {
			s.handleFailure(ctx, entry, err)
			continue
		}
		resolved++
	}

	return resolved, nil
}

func (s *Sweeper) retryOne(ctx context.Context, entry database.RetryEntry) error {
	ch, err := s.channels.GetChannel(ctx, entry.ChannelID)
	if err != nil {
		return err
	}
	cfg, err := s.channels.GetConfig(ctx, entry.ChannelID)
	if err != nil {
		return err
	}
	if ch == nil || cfg == nil {
		return &content.PermanentError{Reason: "channel configuration missing"}
	}

	return s.engine.RetryTopicCreation(ctx, *cfg, *ch, entry)
}

func (s *Sweeper) handleFailure(ctx context.Context, entry database.RetryEntry, attemptErr error) {
	attempt := entry.RetryCount + 1

	if content.IsPermanent(attemptErr) || attempt >= entry.MaxRetries {
		slog.Warn("Topic creation retries exhausted",
			"channel_id", entry.ChannelID, "category", entry.Category,
			"retry_count", attempt, "max_retries", entry.MaxRetries, "error", attemptErr)
		if err := s.retries.Exhaust(ctx, entry); err != nil {
			slog.Error("Failed to remove exhausted retry entry", "id", entry.ID, "error", err)
		}
		return
	}

	next := s.now().UTC().Add(organize.Backoff(attempt))
	slog.Debug("Topic creation retry failed",
		"channel_id", entry.ChannelID, "category", entry.Category,
		"retry_count", attempt, "next_retry_at", next, "error", attemptErr)
	if err := s.retries.RecordAttemptFailure(ctx, entry, next); err != nil {
		slog.Error("Failed to reschedule retry entry", "id", entry.ID, "error", err)
	}
}
