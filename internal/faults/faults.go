// Package faults is the operator-facing fault desk: it records the gas cost
// of user-filed fault reports, cancels false reports, and answers whether an
// asset can be reported right now.
package faults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/assetwatch/internal/banguard"
	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/realtime"
	"github.com/mbd888/assetwatch/internal/syncutil"
	"github.com/mbd888/assetwatch/internal/traces"
)

var (
	ErrNotFilingTx    = errors.New("faults: transaction is not a fault report")
	ErrSenderMismatch = errors.New("faults: transaction was not sent by user")
	ErrAssetMismatch  = errors.New("faults: transaction reports a different asset")
	ErrFilingReverted = errors.New("faults: fault report transaction reverted")
	ErrBanned         = errors.New("faults: user is banned from reporting")
	ErrReasonRequired = errors.New("faults: cancellation reason is required")
	ErrAssetNotBroken = errors.New("faults: asset has no pending fault")
)

// Ledger is the part of the chain client the desk needs.
type Ledger interface {
	AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error)
	CancelFault(ctx context.Context, assetID uint64, reason string) (*chain.TxResult, error)
	FilingCost(ctx context.Context, txHash string) (*chain.Filing, error)
}

// Guard answers and invalidates reporting eligibility.
type Guard interface {
	Check(ctx context.Context, user common.Address) banguard.Eligibility
	OnFaultCancelled(user common.Address)
}

// Recorder persists a cost snapshot, pricing it when polUSD is nil.
type Recorder interface {
	Record(ctx context.Context, assetID uint64, user string, costWei *big.Int, polUSD *float64) (*gascost.Snapshot, error)
}

// Snapshots reads and clears cost snapshots.
type Snapshots interface {
	Get(ctx context.Context, assetID uint64) (*gascost.Snapshot, error)
	Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error
}

type EventEmitter interface {
	EmitAssetEvent(eventType realtime.EventType, assetID uint64, data map[string]interface{})
}

// AssetView is an asset's ledger status with the actions legal from it.
type AssetView struct {
	AssetID uint64             `json:"assetId"`
	Status  lifecycle.Status   `json:"status"`
	Allowed []lifecycle.Action `json:"allowedActions"`
}

// Reportability says whether user may file a report against an asset now.
type Reportability struct {
	AssetID     uint64               `json:"assetId"`
	Status      lifecycle.Status     `json:"status"`
	Reportable  bool                 `json:"reportable"`
	Eligibility banguard.Eligibility `json:"eligibility"`
}

// Filing identifies a user's on-chain reportFault transaction.
type Filing struct {
	AssetID uint64
	User    common.Address
	TxHash  string
}

// Cancellation is the result of an admin cancelling a fault.
type Cancellation struct {
	AssetID         uint64 `json:"assetId"`
	TxHash          string `json:"txHash"`
	Reason          string `json:"reason"`
	Reporter        string `json:"reporter,omitempty"`
	SnapshotCleared bool   `json:"snapshotCleared"`
}

type Option func(*Desk)

func WithLogger(l *slog.Logger) Option {
	return func(d *Desk) { d.logger = l }
}

func WithEvents(ev EventEmitter) Option {
	return func(d *Desk) { d.events = ev }
}

func WithLedgerTimeout(t time.Duration) Option {
	return func(d *Desk) { d.ledgerTimeout = t }
}

// Desk serializes filings and cancellations per asset.
type Desk struct {
	ledger        Ledger
	guard         Guard
	recorder      Recorder
	snapshots     Snapshots
	events        EventEmitter
	locks         *syncutil.KeyedMutex[uint64]
	logger        *slog.Logger
	ledgerTimeout time.Duration
}

func New(ledger Ledger, guard Guard, recorder Recorder, snapshots Snapshots, opts ...Option) *Desk {
	d := &Desk{
		ledger:    ledger,
		guard:     guard,
		recorder:  recorder,
		snapshots: snapshots,
		locks:     syncutil.NewKeyedMutex[uint64](),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "faults")
	return d
}

// Asset returns the asset's current status and allowed actions.
func (d *Desk) Asset(ctx context.Context, assetID uint64) (*AssetView, error) {
	status, err := d.status(ctx, assetID)
	if err != nil {
		return nil, err
	}
	allowed := lifecycle.Allowed(status)
	if allowed == nil {
		allowed = []lifecycle.Action{}
	}
	return &AssetView{AssetID: assetID, Status: status, Allowed: allowed}, nil
}

// Reportable combines the asset's status with the user's eligibility. The
// ledger status is always read fresh.
func (d *Desk) Reportable(ctx context.Context, assetID uint64, user common.Address) (*Reportability, error) {
	status, err := d.status(ctx, assetID)
	if err != nil {
		return nil, err
	}
	e := d.guard.Check(ctx, user)
	_, transitionErr := lifecycle.Check(lifecycle.RoleUser, status, lifecycle.ReportFault)
	return &Reportability{
		AssetID:     assetID,
		Status:      status,
		Reportable:  transitionErr == nil && e.Eligible,
		Eligibility: e,
	}, nil
}

// RecordFiling verifies a user's reportFault receipt and snapshots its gas
// cost at the current POL/USD rate for later reimbursement.
func (d *Desk) RecordFiling(ctx context.Context, f Filing) (snap *gascost.Snapshot, err error) {
	ctx, span := traces.StartSpan(ctx, "faults.record_filing",
		traces.AssetID(f.AssetID), traces.TxHash(f.TxHash), traces.User(f.User.Hex()))
	defer func() {
		traces.End(span, err)
		result := "recorded"
		if err != nil {
			result = "rejected"
		}
		metrics.FaultReportsTotal.WithLabelValues("user", result).Inc()
	}()

	unlock, err := d.locks.LockContext(ctx, f.AssetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := d.filingCost(ctx, f.TxHash)
	if errors.Is(err, chain.ErrNotFilingTx) {
		return nil, ErrNotFilingTx
	}
	if err != nil {
		return nil, fmt.Errorf("read filing receipt: %w", err)
	}
	switch {
	case receipt.From != f.User:
		return nil, ErrSenderMismatch
	case receipt.AssetID != f.AssetID:
		return nil, ErrAssetMismatch
	case !receipt.Succeeded:
		return nil, ErrFilingReverted
	}

	if e := d.guard.Check(ctx, f.User); !e.Eligible {
		return nil, ErrBanned
	}

	snap, err = d.recorder.Record(ctx, f.AssetID, f.User.Hex(), receipt.CostWei, nil)
	if err != nil {
		return nil, err
	}
	d.logger.Info("user fault filing recorded",
		"asset_id", f.AssetID, "user", snap.User, "cost_wei", snap.CostWei.String(), "pol_usd", snap.PolUSD)
	return snap, nil
}

// Cancel marks a pending fault as false. The ledger increments the
// reporter's ban counter; the desk clears the reporter's snapshot and cached
// eligibility.
func (d *Desk) Cancel(ctx context.Context, assetID uint64, reason string) (out *Cancellation, err error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	ctx, span := traces.StartSpan(ctx, "faults.cancel", traces.AssetID(assetID))
	defer func() {
		traces.End(span, err)
		result := "cancelled"
		if err != nil {
			result = "failed"
		}
		metrics.FaultCancellationsTotal.WithLabelValues(result).Inc()
	}()

	unlock, err := d.locks.LockContext(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	status, err := d.status(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Check(lifecycle.RoleAdmin, status, lifecycle.CancelFault); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetNotBroken, err)
	}

	tx, err := d.cancelFault(ctx, assetID, reason)
	if err != nil {
		d.logger.Error("cancelFault failed", "asset_id", assetID, "error", err, "kind", chain.KindOf(err).String())
		return nil, fmt.Errorf("cancel fault on asset %d: %w", assetID, err)
	}
	out = &Cancellation{AssetID: assetID, TxHash: tx.TxHash, Reason: reason}

	snap, err := d.snapshots.Get(ctx, assetID)
	switch {
	case errors.Is(err, gascost.ErrNotFound):
	case err != nil:
		d.logger.Error("failed to load snapshot after cancellation", "asset_id", assetID, "error", err)
	default:
		out.Reporter = snap.User
		d.guard.OnFaultCancelled(common.HexToAddress(snap.User))
		if derr := d.snapshots.Delete(ctx, assetID, snap.User, snap.CostWei); derr != nil {
			metrics.SnapshotOpsTotal.WithLabelValues("delete_failed").Inc()
			d.logger.Error("failed to clear snapshot after cancellation", "asset_id", assetID, "error", derr)
		} else {
			metrics.SnapshotOpsTotal.WithLabelValues("delete").Inc()
			out.SnapshotCleared = true
		}
	}

	d.logger.Info("fault cancelled", "asset_id", assetID, "tx_hash", out.TxHash, "reporter", out.Reporter)
	if d.events != nil {
		d.events.EmitAssetEvent(realtime.EventFaultCancelled, assetID, map[string]interface{}{
			"txHash":   out.TxHash,
			"reason":   reason,
			"reporter": out.Reporter,
		})
	}
	return out, nil
}

func (d *Desk) status(ctx context.Context, assetID uint64) (lifecycle.Status, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	s, err := d.ledger.AssetStatus(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("read asset %d status: %w", assetID, err)
	}
	return s, nil
}

func (d *Desk) filingCost(ctx context.Context, txHash string) (*chain.Filing, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.ledger.FilingCost(ctx, txHash)
}

func (d *Desk) cancelFault(ctx context.Context, assetID uint64, reason string) (*chain.TxResult, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.ledger.CancelFault(ctx, assetID, reason)
}

func (d *Desk) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.ledgerTimeout > 0 {
		return context.WithTimeout(ctx, d.ledgerTimeout)
	}
	return ctx, func() {}
}
