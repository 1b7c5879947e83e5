package tasks

// TaskSchedulerInterface defines the interface for background task
// scheduling. The scheduler owns the worker pool, periodically enqueues
// per-channel ingest tasks plus the global maintenance tasks, and retries
// failed tasks with capped exponential backoff.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// ChannelBoundTask is implemented by tasks that must not run concurrently
// with another task for the same channel. Message ordering within a
// channel depends on this.
type ChannelBoundTask interface {
	GetChannelID() int64
}
