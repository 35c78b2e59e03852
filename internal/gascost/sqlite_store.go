package gascost

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// costWei is kept as decimal TEXT; SQLite integers stop at 64 bits.
type snapshotRow struct {
	AssetID uint64  `gorm:"primaryKey;autoIncrement:false"`
	User    string  `gorm:"column:user_addr;size:42;not null"`
	CostWei string  `gorm:"type:text;not null"`
	PolUSD  float64 `gorm:"column:pol_usd;not null"`
	Ts      int64   `gorm:"not null"`
}

func (snapshotRow) TableName() string { return "cost_snapshots" }

// SQLiteStore keeps snapshots in an embedded SQLite file through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the cost_snapshots table and returns a store.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate cost_snapshots: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, in *Snapshot) error {
	snap, err := normalized(in)
	if err != nil {
		return err
	}
	row := snapshotRow{
		AssetID: snap.AssetID,
		User:    snap.User,
		CostWei: snap.CostWei.String(),
		PolUSD:  snap.PolUSD,
		Ts:      snap.Timestamp,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, assetID uint64) (*Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return row.snapshot()
}

func (s *SQLiteStore) Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error {
	if costWei == nil {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).
		Where("asset_id = ? AND user_addr = ? AND cost_wei = ?", assetID, normalizeUser(user), costWei.String()).
		Delete(&snapshotRow{})
	if res.Error != nil {
		return fmt.Errorf("delete snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.WithContext(ctx).Order("asset_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]*Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&snapshotRow{}).Error
}

func (r snapshotRow) snapshot() (*Snapshot, error) {
	wei, ok := new(big.Int).SetString(r.CostWei, 10)
	if !ok {
		return nil, fmt.Errorf("%w: stored cost_wei %q", ErrInvalidSnapshot, r.CostWei)
	}
	return &Snapshot{
		AssetID:   r.AssetID,
		User:      r.User,
		CostWei:   wei,
		PolUSD:    r.PolUSD,
		Timestamp: r.Ts,
	}, nil
}
