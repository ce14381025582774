package control

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/vietddude/requeue/internal/core/config"
	"github.com/vietddude/requeue/internal/infra/queue"
)

func TestOpenShared_RefusesMemoryBackends(t *testing.T) {
	cfg := testConfig()

	if _, err := OpenSharedTransport(context.Background(), cfg); !errors.Is(err, ErrNoSharedTransport) {
		t.Errorf("expected ErrNoSharedTransport, got %v", err)
	}
	if _, err := OpenSharedStore(context.Background(), cfg); !errors.Is(err, ErrNoSharedStore) {
		t.Errorf("expected ErrNoSharedStore, got %v", err)
	}
}

func TestOpenSharedTransport_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.QueueConfig{Name: "jobs"})
	cfg.Redis.URL = "redis://" + mr.Addr()

	ctx := context.Background()
	tr, err := OpenSharedTransport(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenSharedTransport failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Send(ctx, "jobs", []byte(`{}`), queue.SendOptions{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// A second client sees the message: it outlives the sending process.
	other, err := OpenSharedTransport(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenSharedTransport failed: %v", err)
	}
	defer other.Close()

	md, err := other.GetQueueMetadata(ctx, "jobs")
	if err != nil {
		t.Fatalf("GetQueueMetadata failed: %v", err)
	}
	if md.ApproximateMessageCount != 1 {
		t.Errorf("expected 1 message, got %d", md.ApproximateMessageCount)
	}
}
