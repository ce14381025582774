package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes queue health and Prometheus metrics over HTTP.
//
//	GET /health                 aggregated status; 503 when critical
//	GET /health/detailed        per-queue report with totals
//	GET /health/queues/{queue}  one queue; 404 when not consumed
//	GET /metrics                Prometheus exposition
type Server struct {
	monitor *Monitor
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /health/queues/{queue}", s.handleQueue)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler exposes the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := Aggregate(s.monitor.CheckHealth(r.Context()))
	writeJSON(w, statusCode(status), map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	detailed := HealthReport{
		SystemStatus: Aggregate(report),
		Queues:       report,
	}
	for _, q := range report {
		detailed.Totals.Depth += q.Depth
		detailed.Totals.PoisonDepth += q.PoisonDepth
		detailed.Totals.Parked += q.Parked
	}
	writeJSON(w, statusCode(detailed.SystemStatus), detailed)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("queue")
	q, ok := s.monitor.CheckHealth(r.Context())[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "queue not consumed: " + name})
		return
	}
	writeJSON(w, statusCode(q.Status), q)
}

// statusCode maps a health status to the HTTP code load balancers act on.
func statusCode(status SystemStatus) int {
	if status == StatusCritical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write health response", "error", err)
	}
}
