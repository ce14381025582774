// Package sink delivers message bodies to an HTTP endpoint.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/delivery/recovery"
)

// Config holds sink settings for one queue.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// HTTPSink POSTs each message body as JSON.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a new HTTP sink.
func NewHTTPSink(cfg Config) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Process implements consumer.Processor.
func (s *HTTPSink) Process(ctx context.Context, d *domain.Delivery) error {
	if !json.Valid(d.Body) {
		return recovery.Permanent(fmt.Errorf("message %s body is not valid JSON", d.ID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(d.Body))
	if err != nil {
		return recovery.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requeue-Message-Id", d.ID)
	req.Header.Set("X-Requeue-Queue", d.QueueName)
	req.Header.Set("X-Requeue-Delivery-Count", strconv.Itoa(d.DeliveryCount))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
