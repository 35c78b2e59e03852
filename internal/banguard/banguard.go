// Package banguard decides whether a user may file fault reports, based on
// the ledger's count of that user's cancelled (false) reports.
package banguard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/assetwatch/internal/metrics"
)

const (
	// DefaultThreshold is the cancelled-report count at which a user is banned.
	DefaultThreshold     = 3
	DefaultCacheTTL      = 15 * time.Second
	DefaultLedgerTimeout = 45 * time.Second
)

// BanCounter reads the ledger's per-user cancelled-report count.
type BanCounter interface {
	BanCount(ctx context.Context, user common.Address) (uint64, error)
}

// Eligibility is the outcome of one check. Degraded means the ledger could
// not be read and the user was let through.
type Eligibility struct {
	User     string `json:"user"`
	Count    uint64 `json:"count"`
	Eligible bool   `json:"eligible"`
	Degraded bool   `json:"degraded"`
}

type cached struct {
	count   uint64
	expires time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLedgerTimeout bounds each ban count read; a read that runs out of time
// fails open like any other error.
func WithLedgerTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.ledgerTimeout = d
		}
	}
}

// Guard checks reporting eligibility. It fails open: a user is never
// blocked because the ledger was unreachable.
type Guard struct {
	ledger    BanCounter
	threshold uint64
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	ledgerTimeout time.Duration

	mu    sync.Mutex
	cache map[common.Address]cached
}

// New creates a guard. threshold <= 0 uses DefaultThreshold; ttl <= 0
// disables caching.
func New(ledger BanCounter, threshold int, ttl time.Duration, logger *slog.Logger, opts ...Option) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	g := &Guard{
		ledger:        ledger,
		threshold:     uint64(threshold),
		ttl:           ttl,
		logger:        logger.With("component", "banguard"),
		now:           time.Now,
		ledgerTimeout: DefaultLedgerTimeout,
		cache:         make(map[common.Address]cached),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsEligible reports whether user may file a fault report.
func (g *Guard) IsEligible(ctx context.Context, user common.Address) bool {
	return g.Check(ctx, user).Eligible
}

// Check returns the user's ban count and eligibility.
func (g *Guard) Check(ctx context.Context, user common.Address) Eligibility {
	e := Eligibility{User: user.Hex()}

	if n, ok := g.lookup(user); ok {
		e.Count = n
		e.Eligible = n < g.threshold
		g.count(e)
		return e
	}

	n, err := g.read(ctx, user)
	if err != nil {
		g.logger.Warn("ban count unavailable, allowing report", "user", user.Hex(), "error", err)
		e.Eligible = true
		e.Degraded = true
		metrics.BanChecksTotal.WithLabelValues("fail_open").Inc()
		return e
	}
	g.store(user, n)

	e.Count = n
	e.Eligible = n < g.threshold
	g.count(e)
	return e
}

func (g *Guard) read(ctx context.Context, user common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.ledgerTimeout)
	defer cancel()
	return g.ledger.BanCount(ctx, user)
}

// OnFaultCancelled drops the cached count for user; the ledger has just
// incremented it.
func (g *Guard) OnFaultCancelled(user common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, user)
}

// Threshold returns the ban threshold.
func (g *Guard) Threshold() uint64 { return g.threshold }

func (g *Guard) lookup(user common.Address) (uint64, bool) {
	if g.ttl <= 0 {
		return 0, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cache[user]
	if !ok || g.now().After(c.expires) {
		return 0, false
	}
	return c.count, true
}

func (g *Guard) store(user common.Address, n uint64) {
	if g.ttl <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[user] = cached{count: n, expires: g.now().Add(g.ttl)}
}

func (g *Guard) count(e Eligibility) {
	if e.Eligible {
		metrics.BanChecksTotal.WithLabelValues("eligible").Inc()
	} else {
		metrics.BanChecksTotal.WithLabelValues("banned").Inc()
	}
}
