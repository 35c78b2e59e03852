// Package detector flags assets whose temperature stays above a threshold
// for several consecutive samples and files a predictive fault report.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/realtime"
	"github.com/mbd888/assetwatch/internal/syncutil"
	"github.com/mbd888/assetwatch/internal/traces"
)

// ReportDescription is the fault text filed on the ledger.
const ReportDescription = "Predictive maintenance triggered (High temperature)"

const (
	DefaultThreshold    = 70.0
	DefaultTriggerCount = 3
)

var ErrInvalidConfig = errors.New("detector: invalid config")

// Decision is the outcome of one observation.
type Decision int

const (
	Normal     Decision = iota // at or below threshold; counter reset
	Escalating                 // above threshold, trigger count not reached
	Trigger                    // trigger count reached; counter reset
)

func (d Decision) String() string {
	switch d {
	case Normal:
		return "normal"
	case Escalating:
		return "escalating"
	case Trigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// Config holds detection parameters. A reading counts as high only when it
// is strictly greater than Threshold.
type Config struct {
	Threshold    float64
	TriggerCount int
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, TriggerCount: DefaultTriggerCount}
}

func (c Config) validate() error {
	if c.TriggerCount < 1 {
		return fmt.Errorf("%w: trigger count must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Reporter files fault reports on the ledger.
type Reporter interface {
	ReportFault(ctx context.Context, assetID uint64, description string) (*chain.TxResult, error)
}

// EventEmitter publishes detector events to the realtime feed.
type EventEmitter interface {
	EmitAssetEvent(eventType realtime.EventType, assetID uint64, data map[string]interface{})
}

// Option configures a Detector.
type Option func(*Detector)

func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

func WithEvents(e EventEmitter) Option {
	return func(d *Detector) { d.events = e }
}

// WithLedgerTimeout bounds each reportFault call.
func WithLedgerTimeout(t time.Duration) Option {
	return func(d *Detector) { d.ledgerTimeout = t }
}

// WithOverrides sets per-asset detection parameters.
func WithOverrides(o map[uint64]Config) Option {
	return func(d *Detector) { d.overrides = o }
}

// Detector keeps a consecutive-exceedance counter per asset.
type Detector struct {
	cfg           Config
	overrides     map[uint64]Config
	counters      CounterStore
	reporter      Reporter
	events        EventEmitter
	locks         *syncutil.KeyedMutex[uint64]
	logger        *slog.Logger
	ledgerTimeout time.Duration
}

// New creates a detector. counters defaults to an in-memory store.
func New(cfg Config, counters CounterStore, reporter Reporter, opts ...Option) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if counters == nil {
		counters = NewMemoryCounterStore()
	}
	d := &Detector{
		cfg:      cfg,
		counters: counters,
		reporter: reporter,
		locks:    syncutil.NewKeyedMutex[uint64](),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for id, o := range d.overrides {
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("asset %d: %w", id, err)
		}
	}
	d.logger = d.logger.With("component", "detector")
	return d, nil
}

// ConfigFor returns the parameters in force for assetID.
func (d *Detector) ConfigFor(assetID uint64) Config {
	if o, ok := d.overrides[assetID]; ok {
		return o
	}
	return d.cfg
}

// Observe folds one temperature sample into the asset's counter. The
// read-decide-write sequence holds the asset's lock, and on Trigger the
// counter is already back to zero when Observe returns.
func (d *Detector) Observe(ctx context.Context, assetID uint64, temperature float64) (Decision, error) {
	unlock, err := d.locks.LockContext(ctx, assetID)
	if err != nil {
		return Normal, err
	}
	defer unlock()

	cfg := d.ConfigFor(assetID)
	count, err := d.counters.Get(ctx, assetID)
	if err != nil {
		return Normal, fmt.Errorf("read counter: %w", err)
	}

	var decision Decision
	switch {
	case temperature <= cfg.Threshold:
		count, decision = 0, Normal
	case count+1 >= cfg.TriggerCount:
		count, decision = 0, Trigger
	default:
		count, decision = count+1, Escalating
	}

	if err := d.counters.Set(ctx, assetID, count); err != nil {
		return Normal, fmt.Errorf("write counter: %w", err)
	}
	metrics.DetectorDecisionsTotal.WithLabelValues(decision.String()).Inc()
	return decision, nil
}

// Process observes a sample and, on Trigger, files a fault report. A failed
// report is logged, counted and returned; the counter is not rolled back and
// the report is not retried.
func (d *Detector) Process(ctx context.Context, assetID uint64, temperature float64) (Decision, error) {
	decision, err := d.Observe(ctx, assetID, temperature)
	if err != nil || decision != Trigger {
		return decision, err
	}

	log := d.logger.With("asset_id", assetID, "temperature", temperature)
	log.Warn("consecutive high temperature, filing predictive fault")

	res, err := d.report(ctx, assetID)
	if err != nil {
		metrics.FaultReportsTotal.WithLabelValues("detector", "failed").Inc()
		log.Error("predictive fault report failed", "error", err, "kind", chain.KindOf(err).String())
		d.emit(realtime.EventFaultReportFailed, assetID, map[string]interface{}{
			"temperature": temperature,
			"error":       err.Error(),
		})
		return decision, fmt.Errorf("report fault for asset %d: %w", assetID, err)
	}

	metrics.FaultReportsTotal.WithLabelValues("detector", "ok").Inc()
	log.Info("predictive fault reported", "tx_hash", res.TxHash)
	d.emit(realtime.EventFaultTriggered, assetID, map[string]interface{}{
		"temperature": temperature,
		"txHash":      res.TxHash,
		"description": ReportDescription,
	})
	return decision, nil
}

// Count returns the current consecutive-high count for assetID.
func (d *Detector) Count(ctx context.Context, assetID uint64) (int, error) {
	return d.counters.Get(ctx, assetID)
}

func (d *Detector) report(ctx context.Context, assetID uint64) (res *chain.TxResult, err error) {
	if d.reporter == nil {
		return nil, errors.New("detector: no reporter configured")
	}
	ctx, span := traces.StartSpan(ctx, "detector.report", traces.AssetID(assetID))
	defer func() { traces.End(span, err) }()

	if d.ledgerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ledgerTimeout)
		defer cancel()
	}
	return d.reporter.ReportFault(ctx, assetID, ReportDescription)
}

func (d *Detector) emit(t realtime.EventType, assetID uint64, data map[string]interface{}) {
	if d.events != nil {
		d.events.EmitAssetEvent(t, assetID, data)
	}
}
