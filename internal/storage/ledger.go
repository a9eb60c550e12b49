package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/xaenox/rescue-bot/internal/models"
)

type MemoryLedger struct {
	mu         sync.RWMutex
	dispatches map[string]models.Dispatch
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		dispatches: make(map[string]models.Dispatch),
	}
}

func (l *MemoryLedger) Record(ctx context.Context, d models.Dispatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dispatches[d.ID] = d
	return nil
}

func (l *MemoryLedger) Update(ctx context.Context, d models.Dispatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.dispatches[d.ID]; !exists {
		return ErrDispatchNotFound
	}
	l.dispatches[d.ID] = d
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id string) (models.Dispatch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d, exists := l.dispatches[id]; exists {
		return d, nil
	}
	return models.Dispatch{}, ErrDispatchNotFound
}

func (l *MemoryLedger) ListBySession(ctx context.Context, sessionID string) ([]models.Dispatch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Dispatch
	for _, d := range l.dispatches {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}
