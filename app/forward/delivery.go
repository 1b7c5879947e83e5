package forward

import (
	"context"

	"github.com/lysyi3m/chan-comb/app/database"
)

// AlreadyDelivered reports whether this file, or an exact content duplicate
// of it, has already been successfully forwarded to the destination. Both
// the scheduled path and history migrations gate enqueueing on it.
func AlreadyDelivered(ctx context.Context, queue database.QueueRepository, dedup database.DedupRepository, fileID int64, destination string) (bool, error) {
	delivered, err := queue.WasDelivered(ctx, fileID, destination)
	if err != nil || delivered {
		return delivered, err
	}

	fh, err := dedup.GetByFileID(ctx, fileID)
	if err != nil || fh == nil {
		return false, err
	}

	twin, err := dedup.FindBySHA256(ctx, fh.SHA256, fileID)
	if err != nil || twin == nil {
		return false, err
	}

	return queue.WasDelivered(ctx, twin.FileID, destination)
}
