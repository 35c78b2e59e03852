package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/assetwatch/internal/lifecycle"
)

func TestSimulated_CancelUserFilingBumpsBanCount(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(2)
	user := common.HexToAddress("0x2222222222222222222222222222222222222222")

	hash, err := sim.FileFault(user, 1, "buzzing", big.NewInt(1000))
	require.NoError(t, err)

	f, err := sim.FilingCost(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, user, f.From)

	_, err = sim.CancelFault(ctx, 1, "false report")
	require.NoError(t, err)

	n, err := sim.BanCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	head, _ := sim.BlockNumber(ctx)
	cancels, err := sim.FaultCancellations(ctx, 0, head)
	require.NoError(t, err)
	require.Len(t, cancels, 1)
	assert.Equal(t, "false report", cancels[0].Reason)
}

func TestSimulated_DetectorFilingDoesNotBan(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(1)

	_, err := sim.ReportFault(ctx, 0, "auto")
	require.NoError(t, err)
	_, err = sim.CancelFault(ctx, 0, "sensor glitch")
	require.NoError(t, err)

	n, _ := sim.BanCount(ctx, sim.Address())
	assert.Zero(t, n)
}

func TestSimulated_InvalidTransitionKind(t *testing.T) {
	sim := NewSimulated(1)
	_, err := sim.CancelFault(context.Background(), 0, "nothing to cancel")
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestSimulated_ConfirmPaymentOnce(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(1)
	tech := common.HexToAddress("0x3333333333333333333333333333333333333333")

	_, err := sim.ReportFault(ctx, 0, "auto")
	require.NoError(t, err)
	require.NoError(t, sim.StartMaintenance(tech, 0))
	require.NoError(t, sim.CompleteMaintenance(0, true))

	_, err = sim.ConfirmPayment(ctx, 0, big.NewInt(5), common.Address{}, nil)
	require.NoError(t, err)

	_, err = sim.ConfirmPayment(ctx, 0, big.NewInt(5), common.Address{}, nil)
	assert.Equal(t, KindAlreadyPaid, KindOf(err))

	rec, err := sim.LatestMaintenance(ctx, 0)
	require.NoError(t, err)
	assert.True(t, rec.IsPaid)
	assert.Equal(t, tech, rec.Technician)
}

func TestSimulated_FailNext(t *testing.T) {
	sim := NewSimulated(1)
	sim.FailNext(MethodAssetStatus, ErrSimulatedOutage)

	_, err := sim.AssetStatus(context.Background(), 0)
	assert.True(t, IsTransient(err))

	_, err = sim.AssetStatus(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, sim.Calls(MethodAssetStatus))
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Kind: KindReverted, Op: MethodCancelFault, TxHash: "0xabc", Reason: "Only admin"}
	assert.Contains(t, e.Error(), "0xabc")
	assert.Contains(t, e.Error(), "Only admin")
	assert.Equal(t, KindUnauthorized, kindForReason(e.Reason))
	assert.Equal(t, KindReverted, kindForReason("something odd"))
}
