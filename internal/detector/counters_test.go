package detector

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterStore(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	n, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Set(ctx, 1, 2))
	n, _ = s.Get(ctx, 1)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Set(ctx, 1, 0))
	n, _ = s.Get(ctx, 1)
	assert.Zero(t, n)
}

func TestPostgresCounterStore_GetMissingIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT consecutive FROM exceedance_counters WHERE asset_id = $1")).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	n, err := NewPostgresCounterStore(db).Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCounterStore_RoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exceedance_counters (asset_id, consecutive, updated_at)")).
		WithArgs(int64(5), 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consecutive FROM exceedance_counters")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive"}).AddRow(2))

	s := NewPostgresCounterStore(db)
	require.NoError(t, s.Set(context.Background(), 5, 2))
	n, err := s.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetector_WithPostgresCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Restart scenario: two highs persisted before the process restarted.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consecutive")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exceedance_counters")).
		WithArgs(int64(1), 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := New(DefaultConfig(), NewPostgresCounterStore(db), nil)
	require.NoError(t, err)
	dec, err := d.Observe(context.Background(), 1, 85)
	require.NoError(t, err)
	assert.Equal(t, Trigger, dec)
	require.NoError(t, mock.ExpectationsWereMet())
}
