package gascost

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cost_snapshots (asset_id, user_addr, cost_wei, pol_usd, ts)")).
		WithArgs(int64(1), alice, "150000000000000", 0.55, int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewPostgresStore(db).Upsert(context.Background(), &Snapshot{
		AssetID: 1, User: "0x00000000000000000000000000000000000A11CE", CostWei: wei("150000000000000"), PolUSD: 0.55, Timestamp: 1700000000,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cost_snapshots WHERE asset_id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"asset_id", "user_addr", "cost_wei", "pol_usd", "ts"}).
			AddRow(int64(4), alice, "340282366920938463463374607431768211456", -1.0, int64(12)))

	got, err := NewPostgresStore(db).Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.AssetID)
	assert.Equal(t, "340282366920938463463374607431768211456", got.CostWei.String())
	assert.False(t, got.PriceKnown())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cost_snapshots")).
		WithArgs(int64(4)).
		WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresStore(db).Get(context.Background(), 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cost_snapshots")).
		WithArgs(int64(2), alice, "777").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cost_snapshots")).
		WithArgs(int64(2), alice, "777").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresStore(db)
	require.NoError(t, s.Delete(context.Background(), 2, alice, wei("777")))
	assert.ErrorIs(t, s.Delete(context.Background(), 2, alice, wei("777")), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cost_snapshots ORDER BY asset_id")).
		WillReturnRows(sqlmock.NewRows([]string{"asset_id", "user_addr", "cost_wei", "pol_usd", "ts"}).
			AddRow(int64(0), alice, "1", 0.5, int64(1)).
			AddRow(int64(3), bob, "2", 0.6, int64(2)))

	list, err := NewPostgresStore(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bob, list[1].User)
	require.NoError(t, mock.ExpectationsWereMet())
}
