// Package ratelimit throttles API clients by IP with a token bucket. Writes
// (fault filings, cancellations, settlements) hit the ledger and get a
// tighter budget than reads.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/metrics"
)

// Class groups requests that share a budget.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Budget is a token bucket size and refill rate.
type Budget struct {
	RequestsPerMinute int
	BurstSize         int
}

// Config configures rate limiting.
type Config struct {
	Read  Budget
	Write Budget
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
	// IdleAfter is how long a client must be quiet before it is forgotten.
	IdleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Read:            Budget{RequestsPerMinute: 120, BurstSize: 20},
		Write:           Budget{RequestsPerMinute: 20, BurstSize: 5},
		CleanupInterval: time.Minute,
		IdleAfter:       2 * time.Minute,
	}
}

// Limiter tracks buckets by class and client key.
type Limiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup goroutine. Call Stop to end it.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleAfter)
	for key, b := range l.clients {
		if b.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) budget(class Class) Budget {
	if class == ClassWrite {
		return l.cfg.Write
	}
	return l.cfg.Read
}

// Allow reports whether key may make one more request of the given class.
func (l *Limiter) Allow(class Class, key string) bool {
	b := l.budget(class)
	id := string(class) + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.clients[id]
	if !ok {
		l.clients[id] = &bucket{tokens: float64(b.BurstSize - 1), lastCheck: now}
		return b.BurstSize > 0
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(b.RequestsPerMinute) / 60.0
	if state.tokens > float64(b.BurstSize) {
		state.tokens = float64(b.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// RetryAfter is the whole number of seconds until one token refills.
func (l *Limiter) RetryAfter(class Class) int {
	rpm := l.budget(class).RequestsPerMinute
	if rpm <= 0 {
		return 60
	}
	secs := 60 / rpm
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ClassOf maps an HTTP method to its budget.
func ClassOf(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Middleware returns a gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		class := ClassOf(c.Request.Method)
		if !l.Allow(class, c.ClientIP()) {
			metrics.RateLimitedTotal.WithLabelValues(string(class)).Inc()
			retry := l.RetryAfter(class)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}
