// Package server wires the assetwatch components together and serves the
// HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq" // PostgreSQL driver
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mbd888/assetwatch/internal/banguard"
	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/circuitbreaker"
	"github.com/mbd888/assetwatch/internal/config"
	"github.com/mbd888/assetwatch/internal/detector"
	"github.com/mbd888/assetwatch/internal/faults"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/health"
	"github.com/mbd888/assetwatch/internal/idgen"
	"github.com/mbd888/assetwatch/internal/integrity"
	"github.com/mbd888/assetwatch/internal/logging"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/monitor"
	"github.com/mbd888/assetwatch/internal/oracle"
	"github.com/mbd888/assetwatch/internal/ratelimit"
	"github.com/mbd888/assetwatch/internal/readings"
	"github.com/mbd888/assetwatch/internal/realtime"
	"github.com/mbd888/assetwatch/internal/reconciliation"
	"github.com/mbd888/assetwatch/internal/security"
	"github.com/mbd888/assetwatch/internal/settlement"
	"github.com/mbd888/assetwatch/internal/traces"
	"github.com/mbd888/assetwatch/internal/validation"
	"github.com/mbd888/assetwatch/internal/watcher"
)

// Version is reported by /health.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	ledger    chain.Ledger
	db        *sql.DB // nil if using in-memory
	readings  readings.Store
	snapshots gascost.Store
	counters  detector.CounterStore
	prices    oracle.PriceSource
	oracle    *oracle.PriceOracle // nil when a price source is injected

	rpcBreaker *circuitbreaker.Breaker // nil with the simulated ledger

	realtimeHub *realtime.Hub
	recorder    *gascost.Recorder
	detector    *detector.Detector
	committer   *integrity.Committer
	guard       *banguard.Guard
	desk        *faults.Desk
	settlement  *settlement.Engine
	monitor     *monitor.Monitor
	watcher     *watcher.Watcher
	reconciler  *reconciliation.Timer

	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLedger injects the ledger instead of dialing or simulating one.
func WithLedger(l chain.Ledger) Option {
	return func(s *Server) {
		s.ledger = l
	}
}

// WithPriceSource injects the POL/USD source instead of CoinMarketCap.
func WithPriceSource(p oracle.PriceSource) Option {
	return func(s *Server) {
		s.prices = p
	}
}

// WithRateLimit overrides the default rate limits.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) {
		s.rateLimiter = ratelimit.New(cfg)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.openStores(); err != nil {
		return nil, err
	}
	if err := s.openLedger(); err != nil {
		s.closeDB()
		return nil, err
	}
	if s.prices == nil {
		s.oracle = oracle.New(cfg.CMCBaseURL, cfg.CMCAPIKey, cfg.PriceCacheTTL, oracle.WithLogger(s.logger))
		s.prices = s.oracle
	}
	if err := s.buildComponents(); err != nil {
		s.closeDB()
		return nil, err
	}
	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// openStores picks reading, snapshot and counter storage for the configured
// driver.
func (s *Server) openStores() error {
	cfg := s.cfg
	s.counters = detector.NewMemoryCounterStore()

	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.readings = readings.NewPostgresStore(db)
		s.snapshots = gascost.NewPostgresStore(db)
		if cfg.PersistCounters {
			s.counters = detector.NewPostgresCounterStore(db)
		}
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL), "persist_counters", cfg.PersistCounters)

	case config.StoreSQLite:
		gdb, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("failed to open sqlite %s: %w", cfg.SQLitePath, err)
		}
		db, err := gdb.DB()
		if err != nil {
			return fmt.Errorf("sqlite handle: %w", err)
		}
		// one writer at a time
		db.SetMaxOpenConns(1)
		s.db = db

		rs, err := readings.NewSQLiteStore(gdb)
		if err != nil {
			s.closeDB()
			return err
		}
		ss, err := gascost.NewSQLiteStore(gdb)
		if err != nil {
			s.closeDB()
			return err
		}
		s.readings, s.snapshots = rs, ss
		s.logger.Info("using SQLite storage", "path", cfg.SQLitePath)

	default:
		s.readings = readings.NewMemoryStore()
		s.snapshots = gascost.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	return nil
}

// openLedger dials the AssetManager contract, or simulates it in development
// when no operator key is configured.
func (s *Server) openLedger() error {
	if s.ledger != nil {
		return nil
	}
	cfg := s.cfg
	if cfg.UseSimulatedLedger() {
		var count uint64
		for _, id := range cfg.AssetIDs() {
			if id+1 > count {
				count = id + 1
			}
		}
		s.ledger = chain.NewSimulated(count)
		s.logger.Warn("no operator key configured, using simulated ledger", "assets", count)
		return nil
	}

	s.rpcBreaker = chain.NewReadBreaker()
	client, err := chain.New(chain.Config{
		RPCURL:         cfg.RPCURL,
		PrivateKey:     cfg.PrivateKey,
		ChainID:        cfg.ChainID,
		AssetManager:   cfg.ContractAddress,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, chain.WithLogger(s.logger), chain.WithReadBreaker(s.rpcBreaker))
	if err != nil {
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}
	s.ledger = client
	s.logger.Info("ledger connected",
		"rpc", cfg.RPCURL,
		"chain_id", cfg.ChainID,
		"contract", cfg.ContractAddress,
		"operator", client.Address().Hex(),
	)
	return nil
}

func (s *Server) buildComponents() error {
	cfg := s.cfg
	s.realtimeHub = realtime.NewHub(s.logger)
	s.recorder = gascost.NewRecorder(s.snapshots, s.prices, s.realtimeHub, s.logger)

	det, err := detector.New(
		detector.Config{Threshold: cfg.Threshold, TriggerCount: cfg.TriggerCount},
		s.counters,
		s.ledger,
		detector.WithLogger(s.logger),
		detector.WithEvents(s.realtimeHub),
		detector.WithLedgerTimeout(cfg.LedgerTimeout),
		detector.WithOverrides(s.overrides()),
	)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	s.detector = det

	s.committer = integrity.New(s.readings, s.ledger,
		integrity.WithLogger(s.logger),
		integrity.WithEvents(s.realtimeHub),
		integrity.WithWindow(cfg.IntegrityWindow),
		integrity.WithLedgerTimeout(cfg.LedgerTimeout),
	)

	s.guard = banguard.New(s.ledger, cfg.BanThreshold, cfg.BanCacheTTL, s.logger,
		banguard.WithLedgerTimeout(cfg.LedgerTimeout))

	s.desk = faults.New(s.ledger, s.guard, s.recorder, s.snapshots,
		faults.WithLogger(s.logger),
		faults.WithEvents(s.realtimeHub),
		faults.WithLedgerTimeout(cfg.LedgerTimeout),
	)

	s.settlement = settlement.New(s.ledger, s.snapshots, s.prices,
		settlement.WithLogger(s.logger),
		settlement.WithEvents(s.realtimeHub),
		settlement.WithLedgerTimeout(cfg.LedgerTimeout),
	)

	s.monitor = monitor.New(monitor.Config{
		Assets:         cfg.AssetIDs(),
		IngestInterval: cfg.IngestInterval,
		CommitInterval: cfg.CommitInterval,
		LedgerTimeout:  cfg.LedgerTimeout,
	}, s.ledger, s.readings, monitor.NewSimulatedSensor(cfg.SensorSeed), s.detector, s.committer, s.logger)

	if cfg.WatcherEnabled {
		wcfg := watcher.DefaultConfig()
		wcfg.PollInterval = cfg.WatcherPoll
		s.watcher = watcher.New(wcfg, s.ledger, s.snapshots, s.guard, s.logger)
	}

	rcfg := reconciliation.DefaultConfig()
	rcfg.Purge = cfg.ReconcilePurge
	s.reconciler = reconciliation.NewTimer(
		reconciliation.NewRunner(s.ledger, s.snapshots, rcfg, s.logger),
		cfg.ReconcileInterval, s.logger)

	if s.rateLimiter == nil {
		s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	return nil
}

// overrides collects per-asset detection parameters from the asset file.
func (s *Server) overrides() map[uint64]detector.Config {
	out := make(map[uint64]detector.Config)
	for _, a := range s.cfg.Assets {
		if a.Threshold == nil && a.TriggerCount == nil {
			continue
		}
		c := detector.Config{Threshold: s.cfg.Threshold, TriggerCount: s.cfg.TriggerCount}
		if a.Threshold != nil {
			c.Threshold = *a.Threshold
		}
		if a.TriggerCount != nil {
			c.TriggerCount = *a.TriggerCount
		}
		out[a.ID] = c
	}
	return out
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.health.Register("database", health.PingCheck("database", health.PingerFunc(s.db.PingContext)))
	}
	s.health.Register("ledger", health.PingCheck("ledger", s.ledger))
	s.health.RegisterOptional("monitor", health.LivenessCheck("monitor", s.monitor.Running))
	if s.rpcBreaker != nil {
		s.health.RegisterOptional("rpc_reads", health.BreakerCheck("rpc_reads", s.rpcBreaker.State))
	}
	if s.oracle != nil {
		s.health.RegisterOptional("price_oracle", health.BreakerCheck("price_oracle", s.oracle.BreakerState))
	}
}

// maskDSN hides the password in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return u.String()
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(logging.Middleware(s.logger, idgen.RequestID))
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	health.Probes{
		Registry: s.health,
		Version:  Version,
		Alive:    s.healthy.Load,
		Ready:    s.ready.Load,
	}.Register(s.router)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	{
		v1.GET("/info", s.infoHandler)
		v1.GET("/assets", s.listAssetsHandler)

		gasHandler := gascost.NewHandler(s.recorder, s.prices)
		gasHandler.RegisterRoutes(v1)
		readings.NewHandler(s.readings).RegisterRoutes(v1)
		integrity.NewHandler(s.committer).RegisterRoutes(v1)
		banguard.NewHandler(s.guard).RegisterRoutes(v1)

		faultsHandler := faults.NewHandler(s.desk)
		faultsHandler.RegisterRoutes(v1)

		admin := v1.Group("")
		admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
		gasHandler.RegisterAdminRoutes(admin)
		faultsHandler.RegisterAdminRoutes(admin)
		settlement.NewHandler(s.settlement).RegisterAdminRoutes(admin)
		reconciliation.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
	}
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        Version,
		"env":            s.cfg.Env,
		"chainId":        s.cfg.ChainID,
		"contract":       s.cfg.ContractAddress,
		"operator":       s.ledger.Address().Hex(),
		"simulated":      s.cfg.UseSimulatedLedger(),
		"store":          s.cfg.StoreDriver,
		"monitorRunning": s.monitor.Running(),
		"banThreshold":   s.guard.Threshold(),
		"realtime":       s.realtimeHub.Stats(),
	})
}

// listAssetsHandler handles GET /v1/assets
func (s *Server) listAssetsHandler(c *gin.Context) {
	assets := make([]gin.H, 0, len(s.cfg.Assets))
	for _, a := range s.cfg.Assets {
		dc := s.detector.ConfigFor(a.ID)
		assets = append(assets, gin.H{
			"id":           a.ID,
			"name":         a.Name,
			"threshold":    dc.Threshold,
			"triggerCount": dc.TriggerCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "count": len(assets)})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and the background loops, and blocks until a
// signal, ctx cancellation or a listener error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"operator", s.ledger.Address().Hex(),
			"assets", len(s.cfg.Assets),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		if err := metrics.RegisterDB(s.db); err != nil {
			s.logger.Warn("db pool metrics unavailable", "error", err)
		}
	}

	s.monitor.Start(runCtx)

	if s.watcher != nil {
		if err := s.watcher.Start(runCtx); err != nil {
			s.logger.Error("failed to start fault watcher", "error", err)
		}
	}

	if s.cfg.ReconcileInterval > 0 {
		go s.reconciler.Start(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// let load balancers stop sending traffic
	time.Sleep(s.drainDelay)

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.monitor.Stop()
	s.logger.Info("monitor stopped")

	if s.watcher != nil {
		s.watcher.Stop()
		s.logger.Info("fault watcher stopped")
	}

	s.reconciler.Stop()
	s.rateLimiter.Stop()

	if closer, ok := s.ledger.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("ledger close error", "error", err)
		}
	}

	s.closeDB()
	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
	s.db = nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
