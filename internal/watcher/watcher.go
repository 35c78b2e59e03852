// Package watcher follows FaultCancelled events on the AssetManager
// contract.
//
// A cancellation increments the reporter's ban counter on the ledger, so the
// watcher drops that user's cached eligibility and clears the cost snapshot
// of the cancelled filing. This covers cancellations sent by any admin
// wallet, not only those that went through the fault desk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/metrics"
)

// Ledger is the part of the chain client the watcher needs.
type Ledger interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FaultCancellations(ctx context.Context, fromBlock, toBlock uint64) ([]chain.Cancellation, error)
	AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error)
}

// Snapshots reads and clears cost snapshots.
type Snapshots interface {
	Get(ctx context.Context, assetID uint64) (*gascost.Snapshot, error)
	Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error
}

// BanListener is told when a user's ban counter has moved.
type BanListener interface {
	OnFaultCancelled(user common.Address)
}

// Config for the cancellation watcher
type Config struct {
	PollInterval  time.Duration
	StartBlock    uint64 // 0 = latest
	MaxBlockRange uint64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		MaxBlockRange: 2000,
	}
}

// Watcher polls for FaultCancelled events.
type Watcher struct {
	ledger    Ledger
	config    Config
	snapshots Snapshots
	bans      BanListener
	logger    *slog.Logger

	// Processed transactions by block, kept for MaxBlockRange blocks
	// behind the last scanned one.
	processed map[string]uint64
	mu        sync.Mutex

	lastBlock uint64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg Config, ledger Ledger, snapshots Snapshots, bans BanListener, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultConfig().MaxBlockRange
	}
	return &Watcher{
		ledger:    ledger,
		config:    cfg,
		snapshots: snapshots,
		bans:      bans,
		logger:    logger.With("component", "watcher"),
		processed: make(map[string]uint64),
		lastBlock: cfg.StartBlock,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start resolves the starting block and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	if w.config.StartBlock == 0 {
		block, err := w.ledger.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		w.lastBlock = block
	}

	w.logger.Info("cancellation watcher started", "startBlock", w.lastBlock, "interval", w.config.PollInterval)

	w.started.Store(true)
	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher. It is a no-op if Start never succeeded.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

// LastBlock is the highest block already scanned.
func (w *Watcher) LastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBlock
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.logger.Error("cancellation check failed", "error", err)
			}
		}
	}
}

// Poll scans blocks after the last scanned one, up to the chain head, in
// ranges of at most MaxBlockRange. A failed range is rescanned next poll.
func (w *Watcher) Poll(ctx context.Context) error {
	currentBlock, err := w.ledger.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	from := w.LastBlock() + 1
	for from <= currentBlock {
		to := min(from+w.config.MaxBlockRange-1, currentBlock)

		events, err := w.ledger.FaultCancellations(ctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
		}
		for _, ev := range events {
			if err := w.processCancellation(ctx, ev); err != nil {
				w.logger.Error("failed to process cancellation", "tx", ev.TxHash, "asset_id", ev.AssetID, "error", err)
			}
		}

		w.mu.Lock()
		w.lastBlock = to
		w.pruneLocked(to)
		w.mu.Unlock()
		from = to + 1
	}
	return nil
}

// pruneLocked forgets transactions mined more than MaxBlockRange blocks
// before head. Callers hold w.mu.
func (w *Watcher) pruneLocked(head uint64) {
	if head < w.config.MaxBlockRange {
		return
	}
	floor := head - w.config.MaxBlockRange
	for tx, block := range w.processed {
		if block <= floor {
			delete(w.processed, tx)
		}
	}
}

func (w *Watcher) processCancellation(ctx context.Context, ev chain.Cancellation) error {
	w.mu.Lock()
	if _, ok := w.processed[ev.TxHash]; ok {
		w.mu.Unlock()
		return nil
	}
	w.processed[ev.TxHash] = ev.BlockNumber
	w.mu.Unlock()

	var succeeded bool
	defer func() {
		if !succeeded {
			w.mu.Lock()
			delete(w.processed, ev.TxHash)
			w.mu.Unlock()
		}
	}()

	snap, err := w.snapshots.Get(ctx, ev.AssetID)
	if errors.Is(err, gascost.ErrNotFound) {
		// Detector filing, or the fault desk already cleaned up.
		succeeded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	// A snapshot on an asset that is Broken again belongs to a later filing.
	status, err := w.ledger.AssetStatus(ctx, ev.AssetID)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if status != lifecycle.Operational {
		w.logger.Info("snapshot belongs to a newer filing, keeping it",
			"asset_id", ev.AssetID, "status", status.String(), "tx", ev.TxHash)
		succeeded = true
		return nil
	}

	w.bans.OnFaultCancelled(common.HexToAddress(snap.User))

	err = w.snapshots.Delete(ctx, ev.AssetID, snap.User, snap.CostWei)
	switch {
	case errors.Is(err, gascost.ErrNotFound):
		metrics.SnapshotOpsTotal.WithLabelValues("delete_miss").Inc()
	case err != nil:
		metrics.SnapshotOpsTotal.WithLabelValues("delete_failed").Inc()
		return fmt.Errorf("delete snapshot: %w", err)
	default:
		metrics.SnapshotOpsTotal.WithLabelValues("delete").Inc()
	}

	w.logger.Info("cancelled filing cleaned up",
		"asset_id", ev.AssetID,
		"reporter", snap.User,
		"reason", ev.Reason,
		"tx", ev.TxHash,
	)

	succeeded = true
	return nil
}
