package store

import (
	"context"
	"sort"
	"sync"

	"github.com/danmuck/cellwarden/internal/reservation"
)

// Memory is an in-process reservation store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]reservation.Reservation
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]reservation.Reservation)}
}

func (m *Memory) Get(_ context.Context, cell string) (reservation.Reservation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[cell]
	return r, ok, nil
}

func (m *Memory) Put(_ context.Context, r reservation.Reservation) error {
	if err := validKey(r.CellName); err != nil {
		return err
	}
	m.mu.Lock()
	m.items[r.CellName] = r
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, cell string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[cell]; !ok {
		return missing(cell)
	}
	delete(m.items, cell)
	return nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
