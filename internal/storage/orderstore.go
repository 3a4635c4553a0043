package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
)

// ErrOrderNotFound is returned by LoadOrder for unknown ids.
var ErrOrderNotFound = errors.New("storage: order not found")

// OrderStore is the durability collaborator for the lifecycle machine.
// The machine works on in-memory order values and calls SaveOrder after
// every committed transition.
type OrderStore interface {
	LoadOrder(ctx context.Context, id string) (*models.Order, error)
	SaveOrder(ctx context.Context, o *models.Order) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]models.Order)}
}

func (m *MemoryStore) SaveOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) LoadOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := o
	return &cp, nil
}
