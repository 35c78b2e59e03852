package gascost

import (
	"context"
	"math/big"
	"sort"
	"sync"
)

// MemoryStore is an in-memory snapshot store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uint64]*Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[uint64]*Snapshot)}
}

func (m *MemoryStore) Upsert(_ context.Context, s *Snapshot) error {
	cp, err := normalized(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[cp.AssetID] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, assetID uint64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Delete(_ context.Context, assetID uint64, user string, costWei *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[assetID]
	if !ok || s.User != normalizeUser(user) || costWei == nil || s.CostWei.Cmp(costWei) != 0 {
		return ErrNotFound
	}
	delete(m.snapshots, assetID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[uint64]*Snapshot)
	return nil
}
