package queue

import "time"

// Config holds the worker and scheduler settings.
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"2m"`
	RetryBackoff       time.Duration `env:"QUEUE_RETRY_BACKOFF" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"8"`
	SchedulerInterval  time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"15s"`
	TaskRetention      time.Duration `env:"QUEUE_TASK_RETENTION" envDefault:"168h"`
	PurgeSchedule      string        `env:"QUEUE_PURGE_SCHEDULE" envDefault:"@daily"`
}
