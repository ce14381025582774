package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/requeue/internal/core/config"
	"github.com/vietddude/requeue/internal/infra/queue"
	queuemem "github.com/vietddude/requeue/internal/infra/queue/memory"
	redisclient "github.com/vietddude/requeue/internal/infra/redis"
	"github.com/vietddude/requeue/internal/infra/storage"
	"github.com/vietddude/requeue/internal/infra/storage/memory"
	"github.com/vietddude/requeue/internal/infra/storage/postgres"
)

var (
	// ErrNoSharedTransport is returned when a command outside the service
	// process needs the queue but only the in-process transport is configured.
	ErrNoSharedTransport = errors.New("redis.url is required: the memory transport only exists inside the running service")
	// ErrNoSharedStore is the failure-store counterpart of ErrNoSharedTransport.
	ErrNoSharedStore = errors.New("database.url is required: the memory store only exists inside the running service")
)

// Store bundles the failure repositories with the backend that owns them.
type Store struct {
	Parked   storage.ParkedMessageRepository
	Attempts storage.AttemptRepository
	db       *postgres.DB
}

// OpenStore connects the failure store: PostgreSQL when a database URL is
// configured, memory otherwise.
func OpenStore(ctx context.Context, cfg config.AppConfig) (*Store, error) {
	if cfg.Database.URL == "" {
		store := memory.NewMemoryStorage()
		slog.Info("Using Memory storage")
		return &Store{
			Parked:   memory.NewParkedRepo(store),
			Attempts: memory.NewAttemptRepo(store),
		}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("Using PostgreSQL storage", "driver", driverName(cfg.Database))
	return &Store{
		Parked:   postgres.NewParkedRepo(db),
		Attempts: postgres.NewAttemptRepo(db),
		db:       db,
	}, nil
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func driverName(cfg postgres.Config) string {
	if cfg.Driver == "" {
		return "pgx"
	}
	return cfg.Driver
}

// OpenTransport connects the queue transport: Redis when a URL is
// configured, memory otherwise.
func OpenTransport(ctx context.Context, cfg config.AppConfig) (queue.Transport, error) {
	opts := queue.Options{MaxDeliveries: cfg.MaxDeliveries()}

	if cfg.Redis.URL == "" {
		slog.Info("Using Memory queue transport")
		return queuemem.NewQueue(opts), nil
	}

	client, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	slog.Info("Using Redis queue transport")
	return redisclient.NewQueue(client, opts), nil
}

// OpenSharedTransport is OpenTransport for commands that run outside the
// service process. It refuses the memory transport.
func OpenSharedTransport(ctx context.Context, cfg config.AppConfig) (queue.Transport, error) {
	if cfg.Redis.URL == "" {
		return nil, ErrNoSharedTransport
	}
	return OpenTransport(ctx, cfg)
}

// OpenSharedStore is OpenStore for commands that run outside the service
// process. It refuses the memory store.
func OpenSharedStore(ctx context.Context, cfg config.AppConfig) (*Store, error) {
	if cfg.Database.URL == "" {
		return nil, ErrNoSharedStore
	}
	return OpenStore(ctx, cfg)
}
