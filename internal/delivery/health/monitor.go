package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/queue"
)

// Transport is the part of the queue transport the monitor needs.
type Transport interface {
	queue.MetadataReader
	Ping(ctx context.Context) error
}

// ParkedCounter counts parked messages per queue.
type ParkedCounter interface {
	Count(ctx context.Context, queue string) (int, error)
}

// cacheFor limits how often the transport and store are queried.
const cacheFor = 10 * time.Second

// Monitor aggregates health status from the transport and failure store.
type Monitor struct {
	queues     []string
	transport  Transport
	parked     ParkedCounter
	lastCheck  time.Time
	lastReport map[string]QueueHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. parked may be nil.
func NewMonitor(queues []string, transport Transport, parked ParkedCounter) *Monitor {
	return &Monitor{
		queues:     queues,
		transport:  transport,
		parked:     parked,
		lastReport: make(map[string]QueueHealth),
	}
}

// CheckHealth performs a health check for all queues.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]QueueHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < cacheFor && len(m.lastReport) > 0 {
		return m.lastReport
	}

	pingErr := m.transport.Ping(ctx)
	report := make(map[string]QueueHealth, len(m.queues))

	for _, name := range m.queues {
		h := QueueHealth{Queue: name, Status: StatusHealthy}

		if pingErr != nil {
			h.Status = StatusCritical
			h.TransportError = pingErr.Error()
			report[name] = h
			continue
		}

		if md, err := m.transport.GetQueueMetadata(ctx, name); err != nil {
			h.TransportError = err.Error()
		} else {
			h.Depth = md.ApproximateMessageCount
		}
		if md, err := m.transport.GetQueueMetadata(ctx, domain.PoisonQueueName(name)); err == nil {
			h.PoisonDepth = md.ApproximateMessageCount
		}

		if m.parked != nil {
			count, err := m.parked.Count(ctx, name)
			if err != nil {
				h.StoreError = err.Error()
			} else {
				h.Parked = count
			}
		}

		if h.TransportError != "" || h.StoreError != "" || h.Parked > 0 || h.PoisonDepth > 0 {
			h.Status = StatusDegraded
		}

		report[name] = h
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// Aggregate returns the worst status in report.
func Aggregate(report map[string]QueueHealth) SystemStatus {
	status := StatusHealthy
	for _, q := range report {
		if q.Status == StatusCritical {
			return StatusCritical
		}
		if q.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
