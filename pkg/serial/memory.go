package serial

import (
	"context"
	"math/big"
	"sync"
)

// MemoryStore is a non-persistent counter for CAs that have not been saved.
type MemoryStore struct {
	mu   sync.Mutex
	next *big.Int
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns a counter starting at start (1 when nil).
func NewMemory(start *big.Int) (*MemoryStore, error) {
	v, err := checkStart(start)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{next: v}, nil
}

func (m *MemoryStore) PeekNext() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.next)
}

func (m *MemoryStore) Issue() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.next
	m.next = inc(v)
	return new(big.Int).Set(v)
}

func (m *MemoryStore) Persist(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Reserve(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Issue(), nil
}

func (m *MemoryStore) Close() error { return nil }
