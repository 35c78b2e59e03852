// Package integrity periodically commits a SHA-256 digest of each asset's
// most recent readings to the ledger, so the sensor log can later be
// audited against what was anchored.
package integrity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/readings"
	"github.com/mbd888/assetwatch/internal/realtime"
	"github.com/mbd888/assetwatch/internal/traces"
)

// DefaultWindow is the number of readings folded into one commitment.
const DefaultWindow = 3

// SkipInsufficientData is the skip reason when fewer than Window readings
// exist for an asset.
const SkipInsufficientData = "insufficient-data"

// timestampLayout is RFC 3339 with exactly three fractional digits.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Result describes one commitment cycle.
type Result struct {
	AssetID    uint64 `json:"assetId"`
	Committed  bool   `json:"committed"`
	Hash       string `json:"hash,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
	Readings   int    `json:"readings"`
}

// Skipped reports whether the cycle produced no digest.
func (r *Result) Skipped() bool { return r.SkipReason != "" }

// HashStore anchors digests on the ledger.
type HashStore interface {
	StoreIntegrityHash(ctx context.Context, assetID uint64, hexDigest string) (*chain.TxResult, error)
}

// EventEmitter publishes commitment events to the realtime feed.
type EventEmitter interface {
	EmitAssetEvent(eventType realtime.EventType, assetID uint64, data map[string]interface{})
}

// Option configures a Committer.
type Option func(*Committer)

func WithLogger(l *slog.Logger) Option {
	return func(c *Committer) { c.logger = l }
}

func WithEvents(e EventEmitter) Option {
	return func(c *Committer) { c.events = e }
}

func WithWindow(n int) Option {
	return func(c *Committer) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithLedgerTimeout bounds each submission.
func WithLedgerTimeout(t time.Duration) Option {
	return func(c *Committer) { c.ledgerTimeout = t }
}

// Committer computes and submits integrity digests.
type Committer struct {
	readings      readings.Store
	ledger        HashStore
	events        EventEmitter
	logger        *slog.Logger
	window        int
	ledgerTimeout time.Duration
}

func New(store readings.Store, ledger HashStore, opts ...Option) *Committer {
	c := &Committer{
		readings: store,
		ledger:   ledger,
		logger:   slog.Default(),
		window:   DefaultWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "integrity")
	return c
}

// Window returns the number of readings per commitment.
func (c *Committer) Window() int { return c.window }

// Digest computes the current digest for assetID without submitting it.
// With fewer than Window readings it returns a skipped Result.
func (c *Committer) Digest(ctx context.Context, assetID uint64) (*Result, error) {
	latest, err := c.readings.LastN(ctx, assetID, c.window)
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	res := &Result{AssetID: assetID, Readings: len(latest)}
	if len(latest) < c.window {
		res.SkipReason = SkipInsufficientData
		return res, nil
	}

	// LastN is newest-first; the digest covers oldest-first.
	window := make([]readings.Reading, len(latest))
	for i, r := range latest {
		window[len(latest)-1-i] = r
	}
	digest, err := Hash(window)
	if err != nil {
		return nil, err
	}
	res.Hash = digest
	return res, nil
}

// Commit computes the digest for assetID and anchors it on the ledger.
// Insufficient data is a skip, not an error. A failed submission is returned;
// the next period retries with whatever window is current then.
func (c *Committer) Commit(ctx context.Context, assetID uint64) (res *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "integrity.commit", traces.AssetID(assetID))
	defer func() { traces.End(span, err) }()

	res, err = c.Digest(ctx, assetID)
	if err != nil {
		metrics.IntegrityCommitsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if res.Skipped() {
		metrics.IntegrityCommitsTotal.WithLabelValues("skipped").Inc()
		c.logger.Debug("integrity commit skipped", "asset_id", assetID, "reason", res.SkipReason, "readings", res.Readings)
		return res, nil
	}

	submitCtx := ctx
	if c.ledgerTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, c.ledgerTimeout)
		defer cancel()
	}
	tx, err := c.ledger.StoreIntegrityHash(submitCtx, assetID, res.Hash)
	if err != nil {
		metrics.IntegrityCommitsTotal.WithLabelValues("failed").Inc()
		c.logger.Error("integrity hash submission failed", "asset_id", assetID, "hash", res.Hash, "error", err)
		return res, fmt.Errorf("store integrity hash for asset %d: %w", assetID, err)
	}

	res.Committed = true
	res.TxHash = tx.TxHash
	metrics.IntegrityCommitsTotal.WithLabelValues("committed").Inc()
	c.logger.Info("integrity hash committed", "asset_id", assetID, "hash", res.Hash, "tx_hash", tx.TxHash)
	if c.events != nil {
		c.events.EmitAssetEvent(realtime.EventIntegrityCommitted, assetID, map[string]interface{}{
			"hash":   res.Hash,
			"txHash": tx.TxHash,
		})
	}
	return res, nil
}

var errEmptyWindow = errors.New("integrity: empty window")

// Hash returns the lower-case hex SHA-256 of Canonical(window).
func Hash(window []readings.Reading) (string, error) {
	if len(window) == 0 {
		return "", errEmptyWindow
	}
	sum := sha256.Sum256(Canonical(window))
	return hex.EncodeToString(sum[:]), nil
}

// Canonical renders readings as a compact JSON array of
// {"temperature","vibration","timestamp"} objects in that key order.
// Numbers use the shortest representation that round-trips; timestamps are
// UTC with millisecond precision.
func Canonical(window []readings.Reading) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range window {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"temperature":`)
		buf.WriteString(formatNumber(r.Temperature))
		buf.WriteString(`,"vibration":`)
		buf.WriteString(formatNumber(r.Vibration))
		buf.WriteString(`,"timestamp":"`)
		buf.WriteString(r.Timestamp.UTC().Format(timestampLayout))
		buf.WriteString(`"}`)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// formatNumber matches JSON number output: shortest round-trip digits, no
// exponent for ordinary sensor magnitudes.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
