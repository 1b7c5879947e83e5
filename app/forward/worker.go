package forward

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
)

// Worker drains the forward queue. Items are claimed one at a time with an
// exclusive status transition, so multiple workers never deliver the same
// item twice. Transient delivery failures requeue the item until the
// attempt limit; permanent failures fail it immediately.
type Worker struct {
	queue       database.QueueRepository
	sender      Sender
	timeout     time.Duration
	maxAttempts int
}

func NewWorker(queue database.QueueRepository, sender Sender, timeout time.Duration, maxAttempts int) *Worker {
	return &Worker{
		queue:       queue,
		sender:      sender,
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Drain claims and delivers items until the queue is empty or ctx is done.
// It returns the number of items processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		item, err := w.queue.ClaimNext(ctx)
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}

		if err := w.process(ctx, *item); err != nil {
			return processed, err
		}
		processed++
	}
}

func (w *Worker) process(ctx context.Context, item database.ForwardQueueItem) error {
	err := w.deliver(ctx, item)
	if err == nil {
		if err := w.queue.MarkSuccess(ctx, item.ID); err != nil {
			return err
		}
		return w.creditStats(ctx, item)
	}

	attempts := item.Attempts + 1

	if content.IsPermanent(err) {
		slog.Error("Delivery failed permanently", "item_id", item.ID,
			"message_id", item.MessageID, "destination", item.Destination, "error", err)
		return w.fail(ctx, item, err)
	}

	if attempts >= w.maxAttempts {
		slog.Error("Delivery attempts exhausted", "item_id", item.ID,
			"message_id", item.MessageID, "destination", item.Destination,
			"attempts", attempts, "error", err)
		return w.fail(ctx, item, err)
	}

	slog.Warn("Delivery failed, requeueing", "item_id", item.ID,
		"message_id", item.MessageID, "destination", item.Destination,
		"attempts", attempts, "error", err)
	return w.queue.Requeue(ctx, item.ID, err.Error())
}

// deliver runs one delivery attempt under the per-attempt timeout.
func (w *Worker) deliver(ctx context.Context, item database.ForwardQueueItem) error {
	attemptCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	return w.sender.Deliver(attemptCtx, item)
}

func (w *Worker) fail(ctx context.Context, item database.ForwardQueueItem, deliverErr error) error {
	if err := w.queue.MarkFailed(ctx, item.ID, deliverErr.Error()); err != nil {
		return err
	}
	return w.finalizeStats(ctx, item)
}

func (w *Worker) creditStats(ctx context.Context, item database.ForwardQueueItem) error {
	if item.StatsID == nil {
		return nil
	}

	files := 0
	if item.FileID != 0 {
		files = 1
	}
	if err := w.queue.AddStatsDelta(ctx, *item.StatsID, 1, files, item.FileSize); err != nil {
		return err
	}

	return w.finalizeStats(ctx, item)
}

func (w *Worker) finalizeStats(ctx context.Context, item database.ForwardQueueItem) error {
	if item.StatsID == nil {
		return nil
	}

	closed, err := w.queue.FinalizeStatsIfDone(ctx, *item.StatsID)
	if err != nil {
		return err
	}
	if closed {
		slog.Debug("Forward run resolved", "stats_id", *item.StatsID)
	}
	return nil
}
