package tasks

import (
	"context"

	"github.com/lysyi3m/chan-comb/app/stats"
)

// RollupStatsTask refreshes the daily organization and topic usage rollups.
type RollupStatsTask struct {
	Task
	aggregator *stats.Aggregator
}

func NewRollupStatsTask(aggregator *stats.Aggregator) *RollupStatsTask {
	return &RollupStatsTask{
		Task:       NewTask(TaskTypeRollupStats, ""),
		aggregator: aggregator,
	}
}

func (t *RollupStatsTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return t.aggregator.RollupCurrent(ctx)
}
