// Package reconciliation compares outstanding cost snapshots against ledger
// state and reports (optionally clears) the ones no settlement can pay.
//
// A snapshot is stale when its asset is Operational and the latest
// maintenance record is either missing or already paid: the filing it
// recorded was cancelled, or settled by a path that never cleared it.
// Operational assets with an unpaid record still await settlement and are
// left alone.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/metrics"
)

// Ledger is the part of the chain client the reconciler reads.
type Ledger interface {
	AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error)
	LatestMaintenance(ctx context.Context, assetID uint64) (*chain.MaintenanceRecord, error)
}

// Snapshots lists and clears cost snapshots.
type Snapshots interface {
	List(ctx context.Context) ([]*gascost.Snapshot, error)
	Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error
}

// Config controls a Runner.
type Config struct {
	// Purge deletes stale snapshots instead of only reporting them.
	Purge bool
	// MinAge skips snapshots younger than this, so a filing is never judged
	// against a lagging RPC node.
	MinAge time.Duration
}

func DefaultConfig() Config {
	return Config{MinAge: 10 * time.Minute}
}

// StaleSnapshot is one snapshot no settlement will pay.
type StaleSnapshot struct {
	AssetID uint64 `json:"assetId"`
	User    string `json:"user"`
	CostWei string `json:"costWei"`
	Reason  string `json:"reason"`
	Cleared bool   `json:"cleared"`
}

// Report is the outcome of one run.
type Report struct {
	Checked    int             `json:"checked"`
	Skipped    int             `json:"skipped"`
	Stale      []StaleSnapshot `json:"stale"`
	Errors     int             `json:"errors"`
	Purge      bool            `json:"purge"`
	DurationMs int64           `json:"durationMs"`
	RanAt      time.Time       `json:"ranAt"`
}

// Runner performs reconciliation passes.
type Runner struct {
	ledger    Ledger
	snapshots Snapshots
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(ledger Ledger, snapshots Snapshots, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ledger:    ledger,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run checks every outstanding snapshot once. Per-snapshot ledger errors are
// counted and logged; only a failure to list snapshots aborts the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	began := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(began).Seconds()) }()
	start := r.now()

	list, err := r.snapshots.List(ctx)
	if err != nil {
		metrics.ReconcileErrors.Inc()
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	report := &Report{Stale: []StaleSnapshot{}, Purge: r.cfg.Purge, RanAt: start.UTC()}
	cutoff := start.Add(-r.cfg.MinAge).Unix()

	for _, snap := range list {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.cfg.MinAge > 0 && snap.Timestamp > cutoff {
			report.Skipped++
			continue
		}
		report.Checked++

		reason, err := r.staleReason(ctx, snap.AssetID)
		if err != nil {
			report.Errors++
			metrics.ReconcileErrors.Inc()
			r.logger.Warn("reconciliation check failed", "asset_id", snap.AssetID, "error", err)
			continue
		}
		if reason == "" {
			continue
		}

		stale := StaleSnapshot{
			AssetID: snap.AssetID,
			User:    snap.User,
			CostWei: snap.CostWei.String(),
			Reason:  reason,
		}
		if r.cfg.Purge {
			stale.Cleared = r.clear(ctx, snap)
		}
		report.Stale = append(report.Stale, stale)
	}

	metrics.ReconcileStaleSnapshots.Set(float64(len(report.Stale)))
	report.DurationMs = time.Since(began).Milliseconds()

	if len(report.Stale) > 0 || report.Errors > 0 {
		r.logger.Warn("reconciliation found issues",
			"stale", len(report.Stale), "errors", report.Errors, "purge", r.cfg.Purge)
	} else {
		r.logger.Debug("reconciliation clean", "checked", report.Checked)
	}
	return report, nil
}

func (r *Runner) staleReason(ctx context.Context, assetID uint64) (string, error) {
	status, err := r.ledger.AssetStatus(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	if status != lifecycle.Operational {
		return "", nil
	}

	rec, err := r.ledger.LatestMaintenance(ctx, assetID)
	switch {
	case errors.Is(err, chain.ErrNoMaintenanceRecord):
		return "operational with no maintenance record", nil
	case err != nil:
		return "", fmt.Errorf("read maintenance: %w", err)
	case rec.IsPaid:
		return "latest maintenance already paid", nil
	}
	return "", nil
}

func (r *Runner) clear(ctx context.Context, snap *gascost.Snapshot) bool {
	err := r.snapshots.Delete(ctx, snap.AssetID, snap.User, snap.CostWei)
	switch {
	case errors.Is(err, gascost.ErrNotFound):
		metrics.SnapshotOpsTotal.WithLabelValues("delete_miss").Inc()
		return false
	case err != nil:
		metrics.SnapshotOpsTotal.WithLabelValues("delete_failed").Inc()
		r.logger.Error("failed to clear stale snapshot", "asset_id", snap.AssetID, "error", err)
		return false
	}
	metrics.SnapshotOpsTotal.WithLabelValues("delete").Inc()
	r.logger.Info("stale snapshot cleared", "asset_id", snap.AssetID, "reporter", snap.User)
	return true
}
