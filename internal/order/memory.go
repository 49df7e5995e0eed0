package order

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-memory store twin for tests.
type Memory struct {
	mu     sync.Mutex
	orders map[string]Order // keyed by ExternalURN
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{orders: make(map[string]Order)}
}

func (m *Memory) Create(ctx context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.orders[o.ExternalURN] = o
	return nil
}

func (m *Memory) Supersede(ctx context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, o.ExternalURN)
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.orders[o.ExternalURN] = o
	return nil
}

func (m *Memory) Get(ctx context.Context, externalURN string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[externalURN]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) Update(ctx context.Context, externalURN string, fn func(*Order) error) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[externalURN]
	if !ok {
		return Order{}, ErrNotFound
	}
	if err := fn(&o); err != nil {
		return Order{}, err
	}
	o.UpdatedAt = time.Now().UTC()
	m.orders[externalURN] = o
	return o, nil
}
