// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	StoreDriver     string // memory, postgres or sqlite
	DatabaseURL     string // PostgreSQL connection string
	SQLitePath      string
	PersistCounters bool // keep detector counters in Postgres across restarts

	// Ledger
	RPCURL          string
	ChainID         int64
	PrivateKey      string // Hex-encoded operator key, 0x prefix optional
	ContractAddress string // AssetManager
	LedgerTimeout   time.Duration
	ConfirmTimeout  time.Duration

	// Price oracle
	CMCAPIKey     string
	CMCBaseURL    string
	PriceCacheTTL time.Duration

	// Monitoring
	Assets          []Asset
	AssetsFile      string
	IngestInterval  time.Duration
	CommitInterval  time.Duration
	Threshold       float64
	TriggerCount    int
	IntegrityWindow int
	SensorSeed      uint64

	// Reporting
	BanThreshold   int
	BanCacheTTL    time.Duration
	WatcherEnabled bool
	WatcherPoll    time.Duration

	// Snapshot reconciliation; a zero interval disables the loop but the
	// admin trigger still works.
	ReconcileInterval time.Duration
	ReconcilePurge    bool

	// Security
	AdminSecret string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultRPCURL         = "https://rpc-amoy.polygon.technology"
	DefaultChainID        = 80002 // Polygon Amoy
	DefaultSQLitePath     = "data.db"
	DefaultCMCBaseURL     = "https://pro-api.coinmarketcap.com"
	DefaultAssetIDs       = "0,1,2"
	DefaultIngestInterval = 20 * time.Second
	DefaultCommitInterval = 3 * time.Minute
	DefaultLedgerTimeout  = 45 * time.Second
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultPriceCacheTTL  = 60 * time.Second
	DefaultThreshold      = 70
	DefaultTriggerCount   = 3
	DefaultWindow         = 3
	DefaultBanThreshold   = 3
	DefaultBanCacheTTL    = 15 * time.Second
	DefaultWatcherPoll    = 15 * time.Second
	DefaultReconcile      = 10 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      getEnv("SQLITE_PATH", DefaultSQLitePath),
		PersistCounters: getEnvBool("DETECTOR_PERSIST_COUNTERS", false),
		RPCURL:          getEnv("RPC_URL", DefaultRPCURL),
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		ContractAddress: os.Getenv("ASSET_MANAGER_ADDRESS"),
		LedgerTimeout:   getEnvDuration("LEDGER_TIMEOUT", DefaultLedgerTimeout),
		ConfirmTimeout:  getEnvDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		CMCAPIKey:       os.Getenv("CMC_API_KEY"),
		CMCBaseURL:      getEnv("CMC_BASE_URL", DefaultCMCBaseURL),
		PriceCacheTTL:   getEnvDuration("PRICE_CACHE_TTL", DefaultPriceCacheTTL),
		AssetsFile:      os.Getenv("ASSETS_FILE"),
		IngestInterval:  getEnvDuration("INGEST_INTERVAL", DefaultIngestInterval),
		CommitInterval:  getEnvDuration("COMMIT_INTERVAL", DefaultCommitInterval),
		Threshold:       getEnvFloat("TEMP_THRESHOLD", DefaultThreshold),
		TriggerCount:    int(getEnvInt64("TRIGGER_COUNT", DefaultTriggerCount)),
		IntegrityWindow: int(getEnvInt64("INTEGRITY_WINDOW", DefaultWindow)),
		SensorSeed:      uint64(getEnvInt64("SENSOR_SEED", time.Now().UnixNano())),
		BanThreshold:    int(getEnvInt64("BAN_THRESHOLD", DefaultBanThreshold)),
		BanCacheTTL:     getEnvDuration("BAN_CACHE_TTL", DefaultBanCacheTTL),
		WatcherEnabled:  getEnvBool("WATCHER_ENABLED", true),
		WatcherPoll:     getEnvDuration("WATCHER_POLL_INTERVAL", DefaultWatcherPoll),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcile),
		ReconcilePurge:    getEnvBool("RECONCILE_PURGE", false),

		AdminSecret:  os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.AssetsFile != "" {
		assets, err := LoadAssets(cfg.AssetsFile)
		if err != nil {
			return nil, err
		}
		cfg.Assets = assets
	} else {
		assets, err := ParseAssetIDs(getEnv("ASSET_IDS", DefaultAssetIDs))
		if err != nil {
			return nil, err
		}
		cfg.Assets = assets
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if !c.UseSimulatedLedger() {
		if c.PrivateKey == "" {
			return fmt.Errorf("PRIVATE_KEY is required")
		}
		key := strings.TrimPrefix(c.PrivateKey, "0x")
		if len(key) != 64 || !isHex(key) {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required")
		}
		if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("RPC_URL %q is not a valid URL", c.RPCURL)
		}
		if !common.IsHexAddress(c.ContractAddress) {
			return fmt.Errorf("ASSET_MANAGER_ADDRESS must be a 0x-prefixed contract address")
		}
	}

	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, postgres, sqlite (got %q)", c.StoreDriver)
	}
	if c.PersistCounters && c.StoreDriver != StorePostgres {
		return fmt.Errorf("DETECTOR_PERSIST_COUNTERS requires STORE_DRIVER=postgres")
	}

	for name, d := range map[string]time.Duration{
		"INGEST_INTERVAL":       c.IngestInterval,
		"COMMIT_INTERVAL":       c.CommitInterval,
		"LEDGER_TIMEOUT":        c.LedgerTimeout,
		"PRICE_CACHE_TTL":       c.PriceCacheTTL,
		"WATCHER_POLL_INTERVAL": c.WatcherPoll,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.TriggerCount < 1 {
		return fmt.Errorf("TRIGGER_COUNT must be at least 1")
	}
	if c.IntegrityWindow < 1 {
		return fmt.Errorf("INTEGRITY_WINDOW must be at least 1")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseSimulatedLedger reports whether the service should run against the
// in-process ledger: development mode with no operator key configured.
func (c *Config) UseSimulatedLedger() bool {
	return c.IsDevelopment() && c.PrivateKey == ""
}

// AssetIDs lists the tracked asset ids in configuration order.
func (c *Config) AssetIDs() []uint64 {
	ids := make([]uint64, len(c.Assets))
	for i, a := range c.Assets {
		ids[i] = a.ID
	}
	return ids
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
