package gascost

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/oracle"
	"github.com/mbd888/assetwatch/internal/realtime"
)

// EventEmitter publishes snapshot events to the realtime feed.
type EventEmitter interface {
	EmitAssetEvent(eventType realtime.EventType, assetID uint64, data map[string]interface{})
}

// Recorder writes snapshots, stamping the filing-time rate when the caller
// does not supply one.
type Recorder struct {
	store  Store
	prices oracle.PriceSource
	events EventEmitter
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. prices and events may be nil.
func NewRecorder(store Store, prices oracle.PriceSource, events EventEmitter, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		prices: prices,
		events: events,
		logger: logger.With("component", "gascost"),
		now:    time.Now,
	}
}

// Record upserts the snapshot for assetID. A nil polUSD fetches the current
// rate; if that fails the snapshot is stored with UnknownPrice.
func (r *Recorder) Record(ctx context.Context, assetID uint64, user string, costWei *big.Int, polUSD *float64) (*Snapshot, error) {
	price := UnknownPrice
	switch {
	case polUSD != nil:
		price = *polUSD
	case r.prices != nil:
		p, err := r.prices.CurrentPrice(ctx)
		if err != nil {
			r.logger.Warn("price fetch failed, recording sentinel", "asset_id", assetID, "error", err)
		} else {
			price = p
		}
	}

	snap := &Snapshot{
		AssetID:   assetID,
		User:      user,
		CostWei:   costWei,
		PolUSD:    price,
		Timestamp: r.now().Unix(),
	}
	if err := r.store.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	metrics.SnapshotOpsTotal.WithLabelValues("upsert").Inc()
	r.logger.Info("cost snapshot recorded",
		"asset_id", assetID, "user", snap.User, "cost_wei", snap.CostWei.String(), "pol_usd", snap.PolUSD)

	if r.events != nil {
		r.events.EmitAssetEvent(realtime.EventSnapshotRecorded, assetID, map[string]interface{}{
			"user":    snap.User,
			"costWei": snap.CostWei.String(),
			"polUsd":  snap.PolUSD,
		})
	}
	return snap, nil
}

// Store exposes the underlying snapshot store.
func (r *Recorder) Store() Store {
	return r.store
}
