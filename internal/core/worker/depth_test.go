package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/requeue/internal/delivery/metrics"
	"github.com/vietddude/requeue/internal/infra/queue"
)

type stubReader struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   map[string]bool
	calls  []string
}

func (s *stubReader) GetQueueMetadata(ctx context.Context, name string) (queue.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if s.fail[name] {
		return queue.Metadata{}, errors.New("metadata unavailable")
	}
	return queue.Metadata{ApproximateMessageCount: s.counts[name]}, nil
}

func TestDepthReporter_ContinuesAfterError(t *testing.T) {
	reader := &stubReader{
		counts: map[string]int64{"depth-a": 3, "depth-c": 7},
		fail:   map[string]bool{"depth-b": true},
	}
	r := NewDepthReporter(reader, []string{"depth-a", "depth-b", "depth-c"}, 0)

	r.Report(context.Background())

	if len(reader.calls) != 3 {
		t.Fatalf("Expected 3 metadata calls, got %d", len(reader.calls))
	}
	if got := testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("depth-a")); got != 3 {
		t.Errorf("Expected depth-a gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("depth-c")); got != 7 {
		t.Errorf("Expected depth-c gauge 7, got %v", got)
	}
}

func TestDepthReporter_StartStopsOnCancel(t *testing.T) {
	reader := &stubReader{counts: map[string]int64{"depth-x": 1}}
	r := NewDepthReporter(reader, []string{"depth-x"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()
	<-done

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.calls) > 1 {
		t.Errorf("Expected at most the initial report, got %d calls", len(reader.calls))
	}
}
