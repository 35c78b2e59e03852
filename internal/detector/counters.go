package detector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// CounterStore holds the consecutive-high count per asset. The Detector
// serializes access per asset, so implementations need no read-modify-write
// atomicity of their own.
type CounterStore interface {
	Get(ctx context.Context, assetID uint64) (int, error)
	Set(ctx context.Context, assetID uint64, count int) error
}

// MemoryCounterStore keeps counters in process memory. A restart re-arms
// every asset at zero.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[uint64]int
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[uint64]int)}
}

func (m *MemoryCounterStore) Get(_ context.Context, assetID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[assetID], nil
}

func (m *MemoryCounterStore) Set(_ context.Context, assetID uint64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count == 0 {
		delete(m.counts, assetID)
		return nil
	}
	m.counts[assetID] = count
	return nil
}

// PostgresCounterStore persists counters in exceedance_counters so an
// escalation survives a restart.
type PostgresCounterStore struct {
	db *sql.DB
}

func NewPostgresCounterStore(db *sql.DB) *PostgresCounterStore {
	return &PostgresCounterStore{db: db}
}

func (p *PostgresCounterStore) Get(ctx context.Context, assetID uint64) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT consecutive FROM exceedance_counters WHERE asset_id = $1`, int64(assetID),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

func (p *PostgresCounterStore) Set(ctx context.Context, assetID uint64, count int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exceedance_counters (asset_id, consecutive, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			consecutive = EXCLUDED.consecutive,
			updated_at  = NOW()`,
		int64(assetID), count,
	)
	if err != nil {
		return fmt.Errorf("set counter: %w", err)
	}
	return nil
}
