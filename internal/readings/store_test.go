package readings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "readings.db")), &gorm.Config{})
	require.NoError(t, err)
	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_LastNNewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, temp := range []float64{61.5, 75, 80, 78.2} {
				r := &Reading{AssetID: 1, Timestamp: base.Add(time.Duration(i) * 20 * time.Second), Temperature: temp, Vibration: 2.5}
				require.NoError(t, s.Append(ctx, r))
				assert.NotZero(t, r.ID)
			}
			require.NoError(t, s.Append(ctx, &Reading{AssetID: 2, Temperature: 99}))

			got, err := s.LastN(ctx, 1, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, 78.2, got[0].Temperature)
			assert.Equal(t, 80.0, got[1].Temperature)
			assert.Equal(t, 75.0, got[2].Temperature)
			assert.True(t, got[0].ID > got[1].ID)
			for _, r := range got {
				assert.Equal(t, uint64(1), r.AssetID)
			}
		})
	}
}

func TestStore_LastNFewerThanN(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, &Reading{AssetID: 5, Temperature: 40}))

			got, err := s.LastN(ctx, 5, 3)
			require.NoError(t, err)
			assert.Len(t, got, 1)

			got, err = s.LastN(ctx, 6, 3)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = s.LastN(ctx, 5, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_TimestampRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))
			r := &Reading{AssetID: 9, Timestamp: ts, Temperature: 71.3, Vibration: 3.14}
			require.NoError(t, s.Append(ctx, r))

			assert.Equal(t, 123000000, r.Timestamp.Nanosecond())
			assert.Equal(t, time.UTC, r.Timestamp.Location())

			got, err := s.LastN(ctx, 9, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, got[0].Timestamp.Equal(r.Timestamp))
			assert.Equal(t, r.Temperature, got[0].Temperature)
			assert.Equal(t, r.Vibration, got[0].Vibration)
		})
	}
}

func TestStore_AppendNil(t *testing.T) {
	assert.ErrorIs(t, NewMemoryStore().Append(context.Background(), nil), ErrInvalidReading)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, &Reading{AssetID: 1, Temperature: 50}))

	got, _ := s.LastN(ctx, 1, 1)
	got[0].Temperature = 999

	again, _ := s.LastN(ctx, 1, 1)
	assert.Equal(t, 50.0, again[0].Temperature)
}

func TestStore_BeforeWalksPages(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []int64
			for i := range 5 {
				r := &Reading{AssetID: 7, Temperature: float64(60 + i)}
				require.NoError(t, s.Append(ctx, r))
				ids = append(ids, r.ID)
			}

			page, err := s.Before(ctx, 7, ids[3], 2)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, ids[2], page[0].ID)
			assert.Equal(t, ids[1], page[1].ID)

			page, err = s.Before(ctx, 7, ids[0], 2)
			require.NoError(t, err)
			assert.Empty(t, page)

			page, err = s.Before(ctx, 7, 0, 10)
			require.NoError(t, err)
			assert.Len(t, page, 5)
		})
	}
}
