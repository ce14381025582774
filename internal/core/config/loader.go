package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultMinBackoff        = 285 * time.Millisecond
	defaultMaxBackoff        = 7 * 24 * time.Hour
	defaultDepthInterval     = 30 * time.Second
	defaultVisibilityTimeout = 30 * time.Second
	defaultConcurrency       = 8
	defaultPollInterval      = time.Second
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.warn()

	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Retry.MinBackoff == 0 {
		c.Retry.MinBackoff = defaultMinBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = defaultMaxBackoff
	}
	if c.Monitor.DepthInterval == 0 {
		c.Monitor.DepthInterval = defaultDepthInterval
	}

	for i := range c.Queues {
		q := &c.Queues[i]
		if q.VisibilityTimeout == 0 {
			q.VisibilityTimeout = defaultVisibilityTimeout
		}
		if q.Concurrency == 0 {
			q.Concurrency = defaultConcurrency
		}
		if q.PollInterval == 0 {
			q.PollInterval = defaultPollInterval
		}
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *AppConfig) Validate() error {
	if c.Retry.MinBackoff <= 0 {
		return errors.New("retry.min_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.MinBackoff {
		return fmt.Errorf("retry.max_backoff (%s) must not be less than retry.min_backoff (%s)",
			c.Retry.MaxBackoff, c.Retry.MinBackoff)
	}

	seen := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queues[%d]: duplicate queue %q", i, q.Name)
		}
		seen[q.Name] = true
		if q.MaxDeliveries < 0 {
			return fmt.Errorf("queue %s: max_deliveries must not be negative", q.Name)
		}
		if q.Concurrency < 0 {
			return fmt.Errorf("queue %s: concurrency must not be negative", q.Name)
		}
	}
	return nil
}

// warn logs settings that are valid but probably unintended.
func (c *AppConfig) warn() {
	for _, q := range c.Queues {
		if q.MessageTTL > 0 && c.Retry.MaxBackoff > q.MessageTTL {
			slog.Warn("max_backoff exceeds message TTL, late retries will expire",
				"queue", q.Name,
				"max_backoff", c.Retry.MaxBackoff,
				"message_ttl", q.MessageTTL,
			)
		}
		if q.Sink.URL == "" {
			slog.Warn("queue has no sink configured", "queue", q.Name)
		}
	}
}
