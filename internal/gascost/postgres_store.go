package gascost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
)

// PostgresStore persists snapshots in the cost_snapshots table. cost_wei is
// NUMERIC(78,0), wide enough for any uint256.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Upsert(ctx context.Context, snap *Snapshot) error {
	s, err := normalized(snap)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO cost_snapshots (asset_id, user_addr, cost_wei, pol_usd, ts)
		VALUES ($1, $2, $3::NUMERIC(78,0), $4, $5)
		ON CONFLICT (asset_id) DO UPDATE SET
			user_addr = EXCLUDED.user_addr,
			cost_wei  = EXCLUDED.cost_wei,
			pol_usd   = EXCLUDED.pol_usd,
			ts        = EXCLUDED.ts`,
		int64(s.AssetID), s.User, s.CostWei.String(), s.PolUSD, s.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `asset_id, user_addr, cost_wei::TEXT, pol_usd, ts`

func (p *PostgresStore) Get(ctx context.Context, assetID uint64) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM cost_snapshots WHERE asset_id = $1`, int64(assetID))
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error {
	if costWei == nil {
		return ErrNotFound
	}
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM cost_snapshots
		WHERE asset_id = $1 AND user_addr = $2 AND cost_wei = $3::NUMERIC(78,0)`,
		int64(assetID), normalizeUser(user), costWei.String(),
	)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM cost_snapshots ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM cost_snapshots`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*Snapshot, error) {
	var (
		s     Snapshot
		asset int64
		cost  string
	)
	if err := sc.Scan(&asset, &s.User, &cost, &s.PolUSD, &s.Timestamp); err != nil {
		return nil, err
	}
	wei, ok := new(big.Int).SetString(cost, 10)
	if !ok {
		return nil, fmt.Errorf("%w: stored cost_wei %q", ErrInvalidSnapshot, cost)
	}
	s.AssetID = uint64(asset)
	s.CostWei = wei
	return &s, nil
}
