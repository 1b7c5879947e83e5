package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/chan-comb/app/cfg"
	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/config"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
	"github.com/lysyi3m/chan-comb/app/dedup"
	"github.com/lysyi3m/chan-comb/app/forward"
	"github.com/lysyi3m/chan-comb/app/organize"
	"github.com/lysyi3m/chan-comb/app/retry"
	"github.com/lysyi3m/chan-comb/app/stats"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	configCache  *config.ConfigCache
	channelRepo  database.ChannelRepository
	ruleRepo     database.RuleRepository
	scheduleRepo database.ScheduleRepository
	organizeRepo database.OrganizeRepository
	engine       *organize.Engine
	index        *dedup.Index
	registry     *classify.Registry
	source       content.MessageSource
	sweeper      *retry.Sweeper
	fwdScheduler *forward.Scheduler
	fwdWorker    *forward.Worker
	aggregator   *stats.Aggregator

	interval      time.Duration
	sweepInterval time.Duration
	workerCount   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	taskQueue chan TaskInterface

	mu         sync.Mutex
	inflight   map[int64]bool
	lastIngest map[int64]time.Time
	lastSweep  time.Time
	lastRollup time.Time
}

func NewScheduler(configCache *config.ConfigCache, channelRepo database.ChannelRepository,
	ruleRepo database.RuleRepository, scheduleRepo database.ScheduleRepository,
	organizeRepo database.OrganizeRepository, engine *organize.Engine, index *dedup.Index,
	registry *classify.Registry, source content.MessageSource, sweeper *retry.Sweeper,
	fwdScheduler *forward.Scheduler, fwdWorker *forward.Worker, aggregator *stats.Aggregator) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		configCache:   configCache,
		channelRepo:   channelRepo,
		ruleRepo:      ruleRepo,
		scheduleRepo:  scheduleRepo,
		organizeRepo:  organizeRepo,
		engine:        engine,
		index:         index,
		registry:      registry,
		source:        source,
		sweeper:       sweeper,
		fwdScheduler:  fwdScheduler,
		fwdWorker:     fwdWorker,
		aggregator:    aggregator,
		interval:      time.Duration(cfg.SchedulerInterval) * time.Second,
		sweepInterval: time.Duration(cfg.SweepInterval) * time.Second,
		workerCount:   cfg.WorkerCount,
		ctx:           ctx,
		cancel:        cancel,
		taskQueue:     make(chan TaskInterface, 300),
		inflight:      make(map[int64]bool),
		lastIngest:    make(map[int64]time.Time),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()

}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

// EnqueueTask queues a task for execution. Channel-bound tasks are rejected
// while another task for the same channel is queued or running, keeping
// per-channel message processing strictly ordered.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	bound, isBound := task.(ChannelBoundTask)
	if isBound && !s.acquireChannel(bound.GetChannelID()) {
		return fmt.Errorf("channel %d already has a task in flight", bound.GetChannelID())
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		if isBound {
			s.releaseChannel(bound.GetChannelID())
		}
		return s.ctx.Err()
	default:
		if isBound {
			s.releaseChannel(bound.GetChannelID())
		}
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	channelConfigs := s.configCache.GetConfigs()
	if len(channelConfigs) == 0 {
		slog.Debug("No channel configurations found")
		return
	}

	slog.Debug("Processing channel configurations", "count", len(channelConfigs))

	for _, channelConfig := range channelConfigs {
		syncTask := NewSyncChannelConfigTask(channelConfig.Name, channelConfig, s.channelRepo, s.ruleRepo, s.scheduleRepo, s.registry)
		if err := s.EnqueueTask(syncTask); err != nil {
			slog.Warn("Failed to enqueue SyncChannelConfigTask", "channel", channelConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueTasks() {
	now := time.Now().UTC()

	for _, channelConfig := range s.configCache.GetConfigs() {
		if !s.ingestDue(channelConfig, now) {
			continue
		}

		ingestTask := NewIngestChannelTask(channelConfig.Name, channelConfig, s.channelRepo, s.ruleRepo, s.engine, s.index, s.registry, s.source)
		if err := s.EnqueueTask(ingestTask); err != nil {
			slog.Debug("Skipping ingest this tick", "channel", channelConfig.Name, "reason", err)
			continue
		}

		s.mu.Lock()
		s.lastIngest[channelConfig.Channel.ID] = now
		s.mu.Unlock()
	}

	if s.maintenanceDue(&s.lastSweep, s.sweepInterval, now) {
		if err := s.EnqueueTask(NewSweepRetriesTask(s.sweeper)); err != nil {
			slog.Warn("Failed to enqueue SweepRetriesTask", "error", err)
		}
	}

	if err := s.EnqueueTask(NewForwardTickTask(s.fwdScheduler, s.fwdWorker)); err != nil {
		slog.Warn("Failed to enqueue ForwardTickTask", "error", err)
	}

	if s.maintenanceDue(&s.lastRollup, time.Hour, now) {
		if err := s.EnqueueTask(NewRollupStatsTask(s.aggregator)); err != nil {
			slog.Warn("Failed to enqueue RollupStatsTask", "error", err)
		}
	}
}

func (s *Scheduler) ingestDue(channelConfig *config.ChannelConfig, now time.Time) bool {
	interval := time.Duration(channelConfig.Settings.IngestInterval) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastIngest[channelConfig.Channel.ID]
	return !ok || now.Sub(last) >= interval
}

func (s *Scheduler) maintenanceDue(last *time.Time, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !last.IsZero() && now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

func (s *Scheduler) acquireChannel(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[channelID] {
		return false
	}
	s.inflight[channelID] = true
	return true
}

func (s *Scheduler) releaseChannel(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, channelID)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if bound, ok := task.(ChannelBoundTask); ok {
		s.releaseChannel(bound.GetChannelID())
	}

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "channel", task.GetChannelName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
