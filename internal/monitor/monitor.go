// Package monitor drives each tracked asset's ingestion and integrity
// commitment on independent timers.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/assetwatch/internal/detector"
	"github.com/mbd888/assetwatch/internal/integrity"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/readings"
)

const (
	DefaultIngestInterval = 20 * time.Second
	DefaultCommitInterval = 3 * time.Minute
)

// StatusReader reads an asset's ledger status.
type StatusReader interface {
	AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error)
}

// Processor feeds one temperature sample to the anomaly detector.
type Processor interface {
	Process(ctx context.Context, assetID uint64, temperature float64) (detector.Decision, error)
}

// Committer submits the integrity hash for an asset.
type Committer interface {
	Commit(ctx context.Context, assetID uint64) (*integrity.Result, error)
}

// Config controls the timers.
type Config struct {
	Assets         []uint64
	IngestInterval time.Duration
	CommitInterval time.Duration
	LedgerTimeout  time.Duration
}

// Monitor owns two loops per asset. A slow or failing asset never delays
// another.
type Monitor struct {
	cfg       Config
	status    StatusReader
	store     readings.Store
	sensor    SensorSource
	detector  Processor
	committer Committer
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, status StatusReader, store readings.Store, sensor SensorSource, det Processor, committer Committer, logger *slog.Logger) *Monitor {
	if cfg.IngestInterval <= 0 {
		cfg.IngestInterval = DefaultIngestInterval
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = DefaultCommitInterval
	}
	return &Monitor{
		cfg:       cfg,
		status:    status,
		store:     store,
		sensor:    sensor,
		detector:  det,
		committer: committer,
		logger:    logger.With("component", "monitor"),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the asset loops are active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start launches the per-asset loops and returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	for _, id := range m.cfg.Assets {
		m.wg.Add(2)
		go m.loop(ctx, id, "ingest", m.cfg.IngestInterval, m.Ingest)
		go m.loop(ctx, id, "commit", m.cfg.CommitInterval, func(ctx context.Context, id uint64) error {
			_, err := m.committer.Commit(ctx, id)
			return err
		})
	}
	metrics.TrackedAssets.Set(float64(len(m.cfg.Assets)))
	m.logger.Info("monitor started",
		"assets", len(m.cfg.Assets),
		"ingest_interval", m.cfg.IngestInterval,
		"commit_interval", m.cfg.CommitInterval)
}

// Stop signals every loop and waits for in-flight cycles to finish.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stop)
	m.wg.Wait()
	metrics.TrackedAssets.Set(0)
}

func (m *Monitor) loop(ctx context.Context, assetID uint64, name string, interval time.Duration, fn func(context.Context, uint64) error) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeRun(ctx, assetID, name, fn)
		}
	}
}

func (m *Monitor) safeRun(ctx context.Context, assetID uint64, name string, fn func(context.Context, uint64) error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in monitor cycle", "asset_id", assetID, "loop", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(ctx, assetID); err != nil {
		m.logger.Warn("monitor cycle failed", "asset_id", assetID, "loop", name, "error", err)
	}
}

// Ingest runs one ingestion cycle: read the ledger status, take a sample,
// append it and feed the detector. Assets that are not Operational are
// skipped without error.
func (m *Monitor) Ingest(ctx context.Context, assetID uint64) error {
	status, err := m.assetStatus(ctx, assetID)
	if err != nil {
		metrics.IngestSkippedTotal.WithLabelValues("status_error").Inc()
		return fmt.Errorf("read status: %w", err)
	}
	if status != lifecycle.Operational {
		metrics.IngestSkippedTotal.WithLabelValues("not_operational").Inc()
		m.logger.Debug("skipping asset", "asset_id", assetID, "status", status.String())
		return nil
	}

	s := m.sensor.Sample(assetID)
	r := &readings.Reading{
		AssetID:     assetID,
		Timestamp:   m.now(),
		Temperature: s.Temperature,
		Vibration:   s.Vibration,
	}
	if err := m.store.Append(ctx, r); err != nil {
		metrics.IngestSkippedTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("append reading: %w", err)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(strconv.FormatUint(assetID, 10)).Inc()
	m.logger.Debug("reading ingested", "asset_id", assetID, "temperature", s.Temperature, "vibration", s.Vibration)

	if _, err := m.detector.Process(ctx, assetID, s.Temperature); err != nil {
		return err
	}
	return nil
}

func (m *Monitor) assetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error) {
	if m.cfg.LedgerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.LedgerTimeout)
		defer cancel()
	}
	return m.status.AssetStatus(ctx, assetID)
}
