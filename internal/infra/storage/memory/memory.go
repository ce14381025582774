package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/requeue/internal/core/domain"
	"github.com/vietddude/requeue/internal/infra/storage"
)

type MemoryStorage struct {
	parked   map[string]*domain.ParkedMessage
	attempts map[string][]domain.Attempt
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		parked:   make(map[string]*domain.ParkedMessage),
		attempts: make(map[string][]domain.Attempt),
	}
}

// -----------------------------------------------------------------------------
// Parked Message Repository
// -----------------------------------------------------------------------------

type ParkedRepo struct {
	store *MemoryStorage
}

func NewParkedRepo(store *MemoryStorage) *ParkedRepo {
	return &ParkedRepo{store: store}
}

func (r *ParkedRepo) Add(ctx context.Context, msg *domain.ParkedMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *msg
	r.store.parked[msg.ID] = &cp
	return nil
}

func (r *ParkedRepo) GetAll(ctx context.Context, queue string, limit int) ([]*domain.ParkedMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var res []*domain.ParkedMessage
	for _, m := range r.store.parked {
		if m.QueueName == queue && m.Status == domain.ParkedStatusPending {
			cp := *m
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ParkedAt.After(res[j].ParkedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *ParkedRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.parked[id]
	if !ok {
		return storage.ErrParkedNotFound
	}
	m.Status = domain.ParkedStatusResolved
	return nil
}

func (r *ParkedRepo) Count(ctx context.Context, queue string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, m := range r.store.parked {
		if m.QueueName == queue && m.Status == domain.ParkedStatusPending {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Attempt Repository
// -----------------------------------------------------------------------------

type AttemptRepo struct {
	store *MemoryStorage
}

func NewAttemptRepo(store *MemoryStorage) *AttemptRepo {
	return &AttemptRepo{store: store}
}

func (r *AttemptRepo) Add(ctx context.Context, attempt *domain.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := attempt.QueueName + "/" + attempt.MessageID
	r.store.attempts[key] = append(r.store.attempts[key], *attempt)
	return nil
}

func (r *AttemptRepo) CountByMessage(ctx context.Context, queue, messageID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.attempts[queue+"/"+messageID]), nil
}
