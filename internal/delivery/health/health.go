// Package health provides service health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the service or a queue.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// QueueHealth contains health data for a consumed queue.
type QueueHealth struct {
	Queue          string       `json:"queue"`
	Status         SystemStatus `json:"status"`
	Depth          int64        `json:"depth"`
	PoisonDepth    int64        `json:"poison_depth"`
	Parked         int          `json:"parked"`
	TransportError string       `json:"transport_error,omitempty"`
	StoreError     string       `json:"store_error,omitempty"`
}

// Totals sums depth and failure counts over all queues.
type Totals struct {
	Depth       int64 `json:"depth"`
	PoisonDepth int64 `json:"poison_depth"`
	Parked      int   `json:"parked"`
}

// HealthReport contains the full service health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Totals       Totals                 `json:"totals"`
	Queues       map[string]QueueHealth `json:"queues"`
}
