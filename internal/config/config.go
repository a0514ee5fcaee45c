package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the task queue tuning knobs.
type QueueConfig struct {
	// WorkerCount is the number of concurrent workers executing tasks.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0,lte=64"`

	// DequeueTimeout bounds how long a worker blocks waiting for a task
	// before re-checking for shutdown.
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout" validate:"required,gt=0"`

	// SchedulerInterval is how often the scheduler polls for delayed and
	// retry tasks that have become due.
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval" validate:"required,gt=0"`
}
