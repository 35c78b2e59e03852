// Package oracle provides the POL/USD exchange rate from CoinMarketCap.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mbd888/assetwatch/internal/circuitbreaker"
	"github.com/mbd888/assetwatch/internal/metrics"
)

// ErrUnavailable wraps every failure to obtain a usable quote.
var ErrUnavailable = errors.New("oracle: price unavailable")

const (
	DefaultBaseURL = "https://pro-api.coinmarketcap.com"
	DefaultTTL     = 60 * time.Second
	quotePath      = "/v2/cryptocurrency/quotes/latest"
	breakerName    = "coinmarketcap"
	symbol         = "POL"
)

// PriceSource is what settlement and the fault desk need from the oracle.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// Option configures a PriceOracle.
type Option func(*PriceOracle)

// WithHTTPClient replaces the default 5s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *PriceOracle) { o.client = c }
}

// WithBreaker shares a circuit breaker with other upstream callers.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(o *PriceOracle) { o.breaker = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *PriceOracle) { o.logger = l }
}

// PriceOracle provides POL/USD with caching. Unlike a display ticker it never
// serves a stale price once the TTL has passed: callers that can tolerate an
// old price decide that themselves.
type PriceOracle struct {
	baseURL string
	apiKey  string
	ttl     time.Duration
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	mu         sync.RWMutex
	price      float64
	lastUpdate time.Time
	fetchMu    sync.Mutex
}

// New creates a price oracle. An empty baseURL uses DefaultBaseURL and a
// non-positive ttl uses DefaultTTL.
func New(baseURL, apiKey string, ttl time.Duration, opts ...Option) *PriceOracle {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := &PriceOracle{
		baseURL: baseURL,
		apiKey:  apiKey,
		ttl:     ttl,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: NewBreaker(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "oracle")
	return o
}

// CurrentPrice returns the POL/USD rate, from cache when younger than the TTL.
// Any failure is reported as ErrUnavailable.
func (o *PriceOracle) CurrentPrice(ctx context.Context) (float64, error) {
	if p, ok := o.cached(); ok {
		metrics.PriceFetchesTotal.WithLabelValues("cached").Inc()
		return p, nil
	}

	// Collapse concurrent refreshes into one upstream request.
	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()
	if p, ok := o.cached(); ok {
		metrics.PriceFetchesTotal.WithLabelValues("cached").Inc()
		return p, nil
	}

	var price float64
	err := o.breaker.Do(func() error {
		var ferr error
		price, ferr = o.fetchPrice(ctx)
		return ferr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			metrics.PriceFetchesTotal.WithLabelValues("circuit_open").Inc()
		} else {
			metrics.PriceFetchesTotal.WithLabelValues("error").Inc()
		}
		o.logger.Warn("price fetch failed", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	o.mu.Lock()
	o.price = price
	o.lastUpdate = time.Now()
	o.mu.Unlock()

	metrics.PriceFetchesTotal.WithLabelValues("ok").Inc()
	metrics.LastPOLPrice.Set(price)
	return price, nil
}

// LastKnown returns the most recently fetched price and when it was fetched,
// regardless of age. ok is false if no fetch has succeeded yet.
func (o *PriceOracle) LastKnown() (price float64, at time.Time, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price, o.lastUpdate, o.price > 0
}

// BreakerState exposes the upstream circuit state for health checks.
func (o *PriceOracle) BreakerState() circuitbreaker.State {
	return o.breaker.State()
}

// NewBreaker returns the circuit the oracle uses by default. A caller giving
// up is not the upstream's fault, so cancellations are not counted.
func NewBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(breakerName, 3, 30*time.Second,
		circuitbreaker.WithFailureFilter(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}))
}

func (o *PriceOracle) cached() (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price > 0 && time.Since(o.lastUpdate) < o.ttl {
		return o.price, true
	}
	return 0, false
}

type quoteResponse struct {
	Data map[string][]struct {
		Quote map[string]struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

// fetchPrice queries the CoinMarketCap latest-quotes endpoint.
func (o *PriceOracle) fetchPrice(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("convert", "USD")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+quotePath+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-CMC_PRO_API_KEY", o.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var result quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	entries := result.Data[symbol]
	if len(entries) == 0 {
		return 0, fmt.Errorf("no %s entry in price response", symbol)
	}
	usd, ok := entries[0].Quote["USD"]
	if !ok {
		return 0, errors.New("no USD quote in price response")
	}
	if usd.Price <= 0 {
		return 0, fmt.Errorf("invalid price returned: %f", usd.Price)
	}
	return usd.Price, nil
}
