//go:build integration

package gascost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/assetwatch/internal/testutil"
)

func TestPostgresStore_Integration(t *testing.T) {
	db := testutil.PGTest(t)

	ctx := context.Background()
	s := NewPostgresStore(db)

	// larger than int64 and float64 can hold exactly
	large := wei("123456789012345678901234567890")
	require.NoError(t, s.Upsert(ctx, &Snapshot{AssetID: 1, User: alice, CostWei: large, PolUSD: 0.5, Timestamp: 10}))
	require.NoError(t, s.Upsert(ctx, &Snapshot{AssetID: 2, User: bob, CostWei: wei("7"), PolUSD: UnknownPrice, Timestamp: 11}))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, large.String(), got.CostWei.String())
	assert.Equal(t, alice, got.User)

	assert.ErrorIs(t, s.Delete(ctx, 1, bob, large), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 1, alice, wei("1")), ErrNotFound)
	require.NoError(t, s.Delete(ctx, 1, alice, large))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(2), list[0].AssetID)

	require.NoError(t, s.Reset(ctx))
	_, err = s.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
