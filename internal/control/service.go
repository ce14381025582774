package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/requeue/internal/core/config"
	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/core/worker"
	"github.com/vietddude/requeue/internal/delivery/classify"
	"github.com/vietddude/requeue/internal/delivery/consumer"
	"github.com/vietddude/requeue/internal/delivery/health"
	"github.com/vietddude/requeue/internal/delivery/recovery"
	"github.com/vietddude/requeue/internal/delivery/sink"
	"github.com/vietddude/requeue/internal/infra/queue"
)

// Service is the main application struct that manages the consumer lifecycle.
type Service struct {
	cfg          config.AppConfig
	transport    queue.Transport
	store        *Store
	workers      map[string]*consumer.Worker
	depth        *worker.DepthReporter
	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new Service with all dependencies initialized.
func NewService(ctx context.Context, cfg config.AppConfig) (*Service, error) {
	// 1. Initialize Transport
	transport, err := OpenTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. Initialize Storage
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	s, err := newService(cfg, transport, store)
	if err != nil {
		_ = store.Close()
		_ = transport.Close()
		return nil, err
	}
	return s, nil
}

func newService(cfg config.AppConfig, transport queue.Transport, store *Store) (*Service, error) {
	// 3. Failure handling
	backoff, err := recovery.NewBackoff(cfg.Retry.MinBackoff, cfg.Retry.MaxBackoff)
	if err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	handler := recovery.NewHandler(
		classify.Default(),
		recovery.NewExtender(transport, backoff),
	)
	slog.Info("Delay policy ready",
		"min_backoff", backoff.MinBackoff(),
		"max_backoff", backoff.MaxBackoff(),
		"max_retries", backoff.MaxRetries(),
	)

	// 4. Consumers
	workers := make(map[string]*consumer.Worker, len(cfg.Queues))
	for _, q := range cfg.Queues {
		var processor consumer.Processor = logProcessor{}
		if q.Sink.URL != "" {
			processor = sink.NewHTTPSink(q.Sink)
		}
		workers[q.Name] = consumer.NewWorker(
			consumer.Config{
				Queue:             q.Name,
				VisibilityTimeout: q.VisibilityTimeout,
				Concurrency:       q.Concurrency,
				PollInterval:      q.PollInterval,
			},
			transport,
			processor,
			handler,
			store.Parked,
			store.Attempts,
		)
	}

	// 5. Monitoring
	queues := cfg.QueueNames()
	healthMon := health.NewMonitor(queues, transport, store.Parked)

	return &Service{
		cfg:          cfg,
		transport:    transport,
		store:        store,
		workers:      workers,
		depth:        worker.NewDepthReporter(transport, queues, cfg.Monitor.DepthInterval),
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		log:          slog.Default(),
	}, nil
}

// Start starts the service and all its components. It does not block.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if s.store.db != nil {
		s.store.db.StartMetricsCollector(ctx)
	}

	// Start Depth Reporter
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.depth.Start(ctx)
	}()

	// Start Consumers
	for name, w := range s.workers {
		s.log.Info("Starting consumer", "queue", name)
		s.wg.Add(1)
		go func(name string, w *consumer.Worker) {
			defer s.wg.Done()
			if err := w.Run(ctx); err != nil {
				s.log.Error("Consumer failed", "queue", name, "error", err)
			}
		}(name, w)
	}

	return nil
}

// Stop stops consumers, waits for in-flight messages and releases resources.
// If ctx ends first, the transport and store stay open so in-flight settles
// can still finish, and ctx's error is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for consumers to stop, leaving transport and store open")
		_ = s.healthServer.Stop(context.Background())
		return fmt.Errorf("stop: %w", ctx.Err())
	}

	if err := s.transport.Close(); err != nil {
		s.log.Warn("Failed to close transport", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("Failed to close store", "error", err)
	}

	// Stop Health Server
	return s.healthServer.Stop(ctx)
}

// Transport returns the queue transport used by the service.
func (s *Service) Transport() queue.Transport {
	return s.transport
}

// logProcessor acknowledges every message after logging it.
type logProcessor struct{}

func (logProcessor) Process(ctx context.Context, d *domain.Delivery) error {
	slog.Info("Message received",
		"queue", d.QueueName,
		"id", d.ID,
		"delivery_count", d.DeliveryCount,
		"bytes", len(d.Body),
	)
	return nil
}
