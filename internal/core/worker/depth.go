package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/requeue/internal/delivery/metrics"
	"github.com/vietddude/requeue/internal/infra/queue"
)

// DepthReporter samples queue metadata and publishes it as a gauge.
type DepthReporter struct {
	reader   queue.MetadataReader
	queues   []string
	interval time.Duration
}

// NewDepthReporter creates a new DepthReporter worker.
func NewDepthReporter(
	reader queue.MetadataReader,
	queues []string,
	interval time.Duration,
) *DepthReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DepthReporter{
		reader:   reader,
		queues:   queues,
		interval: interval,
	}
}

// Start runs the reporter loop until ctx is done.
func (r *DepthReporter) Start(ctx context.Context) {
	if len(r.queues) == 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial report
	r.Report(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report samples every queue once. A failing queue is logged and skipped.
func (r *DepthReporter) Report(ctx context.Context) {
	for _, name := range r.queues {
		md, err := r.reader.GetQueueMetadata(ctx, name)
		if err != nil {
			slog.Error("Failed to read queue metadata", "queue", name, "error", err)
			continue
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(md.ApproximateMessageCount))
		slog.Debug("Queue depth", "queue", name, "count", md.ApproximateMessageCount)
	}
}
