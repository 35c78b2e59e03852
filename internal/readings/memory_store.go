package readings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory reading log for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	logs   map[uint64][]Reading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[uint64][]Reading)}
}

func (m *MemoryStore) Append(_ context.Context, r *Reading) error {
	if err := normalize(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.logs[r.AssetID] = append(m.logs[r.AssetID], *r)
	return nil
}

func (m *MemoryStore) LastN(ctx context.Context, assetID uint64, n int) ([]Reading, error) {
	return m.Before(ctx, assetID, 0, n)
}

// Before treats beforeID <= 0 as no bound.
func (m *MemoryStore) Before(_ context.Context, assetID uint64, beforeID int64, n int) ([]Reading, error) {
	if n <= 0 {
		return []Reading{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[assetID]
	out := make([]Reading, 0, min(n, len(log)))
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		if beforeID > 0 && log[i].ID >= beforeID {
			continue
		}
		out = append(out, log[i])
	}
	return out, nil
}
