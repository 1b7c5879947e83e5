package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/chan-comb/app/database"
)

// DateLayout is the day bucket key used for all rollups, in UTC.
const DateLayout = "2006-01-02"

// Aggregator recomputes the daily organization and topic usage rollups.
// Rollups are derived entirely from the base tables, so re-running a day
// produces the same numbers.
type Aggregator struct {
	stats    database.StatsRepository
	channels database.ChannelRepository
	now      func() time.Time
}

func NewAggregator(stats database.StatsRepository, channels database.ChannelRepository) *Aggregator {
	return &Aggregator{
		stats:    stats,
		channels: channels,
		now:      time.Now,
	}
}

// RollupDate recomputes the rollups of every known channel for one day.
func (a *Aggregator) RollupDate(ctx context.Context, date string) error {
	channels, err := a.channels.ListChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := a.stats.RollupDay(ctx, ch.ChannelID, date); err != nil {
			return err
		}
		if err := a.stats.RollupTopics(ctx, ch.ChannelID, date); err != nil {
			return err
		}
	}

	return nil
}

// RollupCurrent rolls up today and yesterday in UTC. Yesterday is included
// so activity around midnight settles into the right bucket.
func (a *Aggregator) RollupCurrent(ctx context.Context) error {
	start := time.Now()
	now := a.now().UTC()

	for _, date := range []string{
		now.AddDate(0, 0, -1).Format(DateLayout),
		now.Format(DateLayout),
	} {
		if err := a.RollupDate(ctx, date); err != nil {
			return err
		}
	}

	slog.Debug("Task completed", "type", "stats_rollup",
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}
