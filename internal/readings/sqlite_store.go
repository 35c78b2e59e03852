package readings

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type readingRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	AssetID     uint64    `gorm:"index:idx_readings_asset_id;not null"`
	Timestamp   time.Time `gorm:"column:ts;not null"`
	Temperature float64   `gorm:"not null"`
	Vibration   float64   `gorm:"not null"`
}

func (readingRow) TableName() string { return "sensor_readings" }

// SQLiteStore keeps the reading log in an embedded SQLite file through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the sensor_readings table and returns a store.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&readingRow{}); err != nil {
		return nil, fmt.Errorf("migrate sensor_readings: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, r *Reading) error {
	if err := normalize(r); err != nil {
		return err
	}
	row := readingRow{
		AssetID:     r.AssetID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Vibration:   r.Vibration,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	r.ID = row.ID
	return nil
}

func (s *SQLiteStore) LastN(ctx context.Context, assetID uint64, n int) ([]Reading, error) {
	return s.Before(ctx, assetID, 0, n)
}

func (s *SQLiteStore) Before(ctx context.Context, assetID uint64, beforeID int64, n int) ([]Reading, error) {
	if n <= 0 {
		return []Reading{}, nil
	}
	q := s.db.WithContext(ctx).Where("asset_id = ?", assetID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var rows []readingRow
	if err := q.Order("id DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	out := make([]Reading, 0, len(rows))
	for _, row := range rows {
		out = append(out, Reading{
			ID:          row.ID,
			AssetID:     row.AssetID,
			Timestamp:   row.Timestamp.UTC(),
			Temperature: row.Temperature,
			Vibration:   row.Vibration,
		})
	}
	return out, nil
}
