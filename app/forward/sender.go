package forward

import (
	"context"

	"github.com/lysyi3m/chan-comb/app/database"
)

// Sender delivers a queued item to its destination. Implementations wrap
// the messaging transport; errors should be content.TransientError or
// content.PermanentError so the worker can tell retryable failures apart.
type Sender interface {
	Deliver(ctx context.Context, item database.ForwardQueueItem) error
}

// NopSender accepts every delivery. Used when no transport is configured,
// so the pipeline can run end to end in dry mode.
type NopSender struct{}

func (NopSender) Deliver(ctx context.Context, item database.ForwardQueueItem) error {
	return nil
}
