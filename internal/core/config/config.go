package config

import (
	"time"

	"github.com/vietddude/requeue/internal/delivery/sink"
	redisclient "github.com/vietddude/requeue/internal/infra/redis"
	"github.com/vietddude/requeue/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Retry    RetryConfig        `yaml:"retry"`
	Monitor  MonitorConfig      `yaml:"monitor"`
	Queues   []QueueConfig      `yaml:"queues"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the delay policy bounds.
type RetryConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// MonitorConfig holds queue monitoring settings.
type MonitorConfig struct {
	DepthInterval time.Duration `yaml:"depth_interval"`
}

// QueueConfig holds settings for a consumed queue.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDeliveries     int           `yaml:"max_deliveries"` // 0 = no poison queue
	MessageTTL        time.Duration `yaml:"message_ttl"`    // 0 = no expiry
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Sink              sink.Config   `yaml:"sink"`
}

// QueueNames returns the configured queue names in order.
func (c *AppConfig) QueueNames() []string {
	names := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		names = append(names, q.Name)
	}
	return names
}

// MaxDeliveries returns the per-queue poison thresholds.
func (c *AppConfig) MaxDeliveries() map[string]int {
	m := make(map[string]int, len(c.Queues))
	for _, q := range c.Queues {
		if q.MaxDeliveries > 0 {
			m[q.Name] = q.MaxDeliveries
		}
	}
	return m
}
