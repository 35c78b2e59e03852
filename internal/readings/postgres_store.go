package readings

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists readings in the sensor_readings table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, r *Reading) error {
	if err := normalize(r); err != nil {
		return err
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sensor_readings (asset_id, ts, temperature, vibration)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		int64(r.AssetID), r.Timestamp, r.Temperature, r.Vibration,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (p *PostgresStore) LastN(ctx context.Context, assetID uint64, n int) ([]Reading, error) {
	if n <= 0 {
		return []Reading{}, nil
	}
	return p.query(ctx, n, `
		SELECT id, asset_id, ts, temperature, vibration
		FROM sensor_readings
		WHERE asset_id = $1
		ORDER BY id DESC
		LIMIT $2`, int64(assetID), n)
}

func (p *PostgresStore) Before(ctx context.Context, assetID uint64, beforeID int64, n int) ([]Reading, error) {
	if beforeID <= 0 {
		return p.LastN(ctx, assetID, n)
	}
	if n <= 0 {
		return []Reading{}, nil
	}
	return p.query(ctx, n, `
		SELECT id, asset_id, ts, temperature, vibration
		FROM sensor_readings
		WHERE asset_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT $3`, int64(assetID), beforeID, n)
}

func (p *PostgresStore) query(ctx context.Context, n int, q string, args ...any) ([]Reading, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Reading, 0, n)
	for rows.Next() {
		var (
			r     Reading
			asset int64
		)
		if err := rows.Scan(&r.ID, &asset, &r.Timestamp, &r.Temperature, &r.Vibration); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.AssetID = uint64(asset)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
