// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/assetwatch/migrations"
)

// PostgresImage is the container image used when POSTGRES_URL is unset.
const PostgresImage = "postgres:16-alpine"

// Tables lists the application tables a test database is reset to empty.
var Tables = []string{"sensor_readings", "cost_snapshots", "exceedance_counters"}

// PGTest returns a migrated Postgres database that is emptied and closed
// when the test ends.
//
// POSTGRES_URL points at an existing server. Without it a throwaway
// container is started, and the test is skipped when no container runtime
// is available.
func PGTest(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		dsn = startContainer(ctx, t)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("pgtest: ping: %v", err)
	}

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		t.Fatalf("pgtest: load migrations: %v", err)
	}
	if _, err := p.Up(ctx); err != nil {
		t.Fatalf("pgtest: migrate: %v", err)
	}

	// Registered after db.Close, so it runs first.
	t.Cleanup(func() {
		for _, table := range Tables {
			_, _ = db.ExecContext(ctx, "TRUNCATE "+table+" RESTART IDENTITY") // #nosec G202 -- fixed table names
		}
	})
	return db
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("assetwatch"),
		postgres.WithUsername("assetwatch"),
		postgres.WithPassword("assetwatch"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if ctr == nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = testcontainers.TerminateContainer(ctr, testcontainers.StopContext(stopCtx))
	})
	if err != nil {
		t.Skipf("pgtest: POSTGRES_URL not set and no container runtime: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgtest: container dsn: %v", err)
	}
	return dsn
}
