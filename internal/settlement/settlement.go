// Package settlement pays technicians for completed maintenance and
// reimburses the reporting user's filing gas, corrected for POL/USD drift
// between filing and payment.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/oracle"
	"github.com/mbd888/assetwatch/internal/pol"
	"github.com/mbd888/assetwatch/internal/realtime"
	"github.com/mbd888/assetwatch/internal/syncutil"
	"github.com/mbd888/assetwatch/internal/traces"
)

var (
	ErrNoMaintenanceRecord = errors.New("settlement: no completed maintenance record")
	ErrNotReadyForPayment  = errors.New("settlement: maintenance not ready for payment")
	ErrInvalidAmount       = errors.New("settlement: invalid technician amount")
)

// divisionPrecision keeps far more digits than wei resolution before the
// final truncation.
const divisionPrecision = 40

// Ledger is the part of the chain client settlement needs.
type Ledger interface {
	LatestMaintenance(ctx context.Context, assetID uint64) (*chain.MaintenanceRecord, error)
	ConfirmPayment(ctx context.Context, assetID uint64, technicianAmount *big.Int, reimburseTo common.Address, reimburseAmount *big.Int) (*chain.TxResult, error)
}

// Snapshots is the part of the cost snapshot store settlement needs.
type Snapshots interface {
	Get(ctx context.Context, assetID uint64) (*gascost.Snapshot, error)
	Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error
}

// EventEmitter publishes settlement events to the realtime feed.
type EventEmitter interface {
	EmitAssetEvent(eventType realtime.EventType, assetID uint64, data map[string]interface{})
}

// Request asks for the latest maintenance record of AssetID to be paid.
type Request struct {
	AssetID          uint64
	TechnicianAmount *big.Int // wei
}

// Outcome describes a settlement. AlreadySettled outcomes carry no payment
// fields. Degraded means the filing-time rate stood in for an unavailable
// current rate.
type Outcome struct {
	AssetID         uint64
	AlreadySettled  bool
	Degraded        bool
	TxHash          string
	Technician      common.Address
	TechnicianWei   *big.Int
	User            common.Address
	UserWei         *big.Int
	CostWei         *big.Int
	FilingPrice     float64
	CurrentPrice    float64
	SnapshotCleared bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithEvents(ev EventEmitter) Option {
	return func(e *Engine) { e.events = ev }
}

// WithLedgerTimeout bounds each ledger call.
func WithLedgerTimeout(t time.Duration) Option {
	return func(e *Engine) { e.ledgerTimeout = t }
}

// Engine settles maintenance records, at most once each.
type Engine struct {
	ledger        Ledger
	snapshots     Snapshots
	prices        oracle.PriceSource
	events        EventEmitter
	locks         *syncutil.KeyedMutex[uint64]
	logger        *slog.Logger
	ledgerTimeout time.Duration
}

func New(ledger Ledger, snapshots Snapshots, prices oracle.PriceSource, opts ...Option) *Engine {
	e := &Engine{
		ledger:    ledger,
		snapshots: snapshots,
		prices:    prices,
		locks:     syncutil.NewKeyedMutex[uint64](),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "settlement")
	return e
}

// Settle pays the latest maintenance record for req.AssetID. A record that is
// already paid yields an AlreadySettled outcome with no error and no side
// effects. After a successful payment the cost snapshot is deleted; a failed
// delete is logged and does not undo the payment.
func (e *Engine) Settle(ctx context.Context, req Request) (out *Outcome, err error) {
	if req.TechnicianAmount == nil || req.TechnicianAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	ctx, span := traces.StartSpan(ctx, "settlement.settle",
		traces.AssetID(req.AssetID), traces.AmountWei(req.TechnicianAmount.String()))
	defer func() {
		traces.End(span, err)
		e.countResult(out, err)
	}()

	unlock, err := e.locks.LockContext(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := e.logger.With("asset_id", req.AssetID)

	rec, err := e.latestRecord(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if rec.IsPaid {
		log.Info("maintenance record already paid, nothing to do", "record", rec.Index)
		return &Outcome{AssetID: req.AssetID, AlreadySettled: true}, nil
	}
	if !rec.ReadyForPayment {
		return nil, ErrNotReadyForPayment
	}

	q, err := e.quote(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	out = &Outcome{
		AssetID:       req.AssetID,
		Degraded:      q.Degraded,
		Technician:    rec.Technician,
		TechnicianWei: new(big.Int).Set(req.TechnicianAmount),
		User:          q.User,
		UserWei:       q.UserWei,
		CostWei:       q.CostWei,
		FilingPrice:   q.FilingPrice,
		CurrentPrice:  q.CurrentPrice,
	}

	tx, err := e.confirm(ctx, req.AssetID, out.TechnicianWei, out.User, out.UserWei)
	if err != nil {
		if chain.KindOf(err) == chain.KindAlreadyPaid {
			log.Info("ledger reports record already paid", "reason", chain.ReasonOf(err))
			return &Outcome{AssetID: req.AssetID, AlreadySettled: true}, nil
		}
		log.Error("confirmPayment failed", "error", err, "kind", chain.KindOf(err).String())
		return nil, fmt.Errorf("confirm payment for asset %d: %w", req.AssetID, err)
	}
	out.TxHash = tx.TxHash

	if q.snapshot != nil {
		out.SnapshotCleared = e.clearSnapshot(ctx, q.snapshot)
	}

	log.Info("maintenance settled",
		"tx_hash", out.TxHash,
		"technician_wei", out.TechnicianWei.String(),
		"user", out.User.Hex(),
		"user_wei", out.UserWei.String(),
		"degraded", out.Degraded)
	if e.events != nil {
		e.events.EmitAssetEvent(realtime.EventSettlementDone, req.AssetID, map[string]interface{}{
			"txHash":        out.TxHash,
			"technicianWei": out.TechnicianWei.String(),
			"user":          out.User.Hex(),
			"userWei":       out.UserWei.String(),
			"degraded":      out.Degraded,
		})
	}
	return out, nil
}

// Quote previews the reimbursement for assetID without submitting anything.
type Quote struct {
	AssetID      uint64
	HasSnapshot  bool
	User         common.Address
	CostWei      *big.Int
	FilingPrice  float64
	CurrentPrice float64
	Degraded     bool
	UserWei      *big.Int
	Record       *chain.MaintenanceRecord // nil when no maintenance is completed

	snapshot *gascost.Snapshot
}

// Quote previews the settlement for assetID.
func (e *Engine) Quote(ctx context.Context, assetID uint64) (*Quote, error) {
	q, err := e.quote(ctx, assetID)
	if err != nil {
		return nil, err
	}
	rec, err := e.latestRecord(ctx, assetID)
	switch {
	case errors.Is(err, ErrNoMaintenanceRecord):
	case err != nil:
		return nil, err
	default:
		q.Record = rec
	}
	return q, nil
}

func (e *Engine) quote(ctx context.Context, assetID uint64) (*Quote, error) {
	q := &Quote{AssetID: assetID, CostWei: big.NewInt(0), UserWei: big.NewInt(0)}

	snap, err := e.snapshots.Get(ctx, assetID)
	if errors.Is(err, gascost.ErrNotFound) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cost snapshot: %w", err)
	}

	q.HasSnapshot = true
	q.snapshot = snap
	q.User = common.HexToAddress(snap.User)
	q.CostWei = new(big.Int).Set(snap.CostWei)
	q.FilingPrice = snap.PolUSD

	if snap.PriceKnown() {
		q.CurrentPrice, q.Degraded = e.currentPrice(ctx, snap.PolUSD)
	}
	q.UserWei = Reimbursement(snap, q.CurrentPrice)
	return q, nil
}

// currentPrice fetches the rate, falling back to the filing-time rate.
func (e *Engine) currentPrice(ctx context.Context, fallback float64) (float64, bool) {
	if e.prices == nil {
		return fallback, true
	}
	p, err := e.prices.CurrentPrice(ctx)
	if err == nil && p > 0 {
		return p, false
	}
	if err == nil {
		err = fmt.Errorf("non-positive price %v", p)
	}
	e.logger.Warn("current POL/USD unavailable, using filing-time rate", "fallback", fallback, "error", err)
	metrics.SettlementDegradedTotal.Inc()
	return fallback, true
}

// Reimbursement converts a filing cost to the POL amount worth the same USD
// at currentPrice, truncated to whole wei.
//
// A nil snapshot reimburses nothing. A snapshot without a known filing rate,
// a non-positive currentPrice, or a currentPrice equal to the filing rate
// reimburses the cost at face value.
func Reimbursement(snap *gascost.Snapshot, currentPrice float64) *big.Int {
	if snap == nil || snap.CostWei == nil {
		return big.NewInt(0)
	}
	if !snap.PriceKnown() || currentPrice <= 0 || currentPrice == snap.PolUSD {
		return new(big.Int).Set(snap.CostWei)
	}
	cost := decimal.NewFromBigInt(snap.CostWei, -pol.Decimals)
	fiat := cost.Mul(decimal.NewFromFloat(snap.PolUSD))
	amount := fiat.DivRound(decimal.NewFromFloat(currentPrice), divisionPrecision)
	return amount.Shift(pol.Decimals).Truncate(0).BigInt()
}

func (e *Engine) latestRecord(ctx context.Context, assetID uint64) (*chain.MaintenanceRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	rec, err := e.ledger.LatestMaintenance(ctx, assetID)
	if errors.Is(err, chain.ErrNoMaintenanceRecord) {
		return nil, ErrNoMaintenanceRecord
	}
	if err != nil {
		return nil, fmt.Errorf("read maintenance record: %w", err)
	}
	return rec, nil
}

func (e *Engine) confirm(ctx context.Context, assetID uint64, tech *big.Int, user common.Address, userWei *big.Int) (*chain.TxResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.ledger.ConfirmPayment(ctx, assetID, tech, user, userWei)
}

func (e *Engine) clearSnapshot(ctx context.Context, snap *gascost.Snapshot) bool {
	err := e.snapshots.Delete(ctx, snap.AssetID, snap.User, snap.CostWei)
	switch {
	case err == nil:
		metrics.SnapshotOpsTotal.WithLabelValues("delete").Inc()
		return true
	case errors.Is(err, gascost.ErrNotFound):
		metrics.SnapshotOpsTotal.WithLabelValues("delete_miss").Inc()
		e.logger.Warn("cost snapshot changed before it could be cleared", "asset_id", snap.AssetID)
	default:
		metrics.SnapshotOpsTotal.WithLabelValues("delete_failed").Inc()
		e.logger.Error("failed to clear cost snapshot after payment", "asset_id", snap.AssetID, "error", err)
	}
	return false
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.ledgerTimeout > 0 {
		return context.WithTimeout(ctx, e.ledgerTimeout)
	}
	return ctx, func() {}
}

func (e *Engine) countResult(out *Outcome, err error) {
	switch {
	case err != nil:
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
	case out != nil && out.AlreadySettled:
		metrics.SettlementsTotal.WithLabelValues("already_settled").Inc()
	default:
		metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	}
}
