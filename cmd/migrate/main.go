// Command migrate applies the Postgres schema embedded in the migrations
// package.
//
//	migrate up | down | redo | status | version | up-to N | down-to N
//
// DATABASE_URL is read from the environment or a .env file. MIGRATIONS_DIR
// swaps the embedded files for a directory on disk.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/assetwatch/internal/logging"
	"github.com/mbd888/assetwatch/migrations"
)

var errUsage = errors.New("usage: migrate up|down|redo|status|version|up-to N|down-to N")

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	var fsys fs.FS = migrations.FS
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		fsys = os.DirFS(dir)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	return execute(ctx, p, args, out)
}

func execute(ctx context.Context, p *goose.Provider, args []string, out io.Writer) error {
	switch cmd := args[0]; cmd {
	case "up":
		results, err := p.Up(ctx)
		report(out, results...)
		return err
	case "down":
		r, err := p.Down(ctx)
		report(out, r)
		return err
	case "redo":
		r, err := p.Down(ctx)
		if err != nil {
			return err
		}
		report(out, r)
		r, err = p.UpByOne(ctx)
		report(out, r)
		return err
	case "up-to", "down-to":
		version, err := targetVersion(args)
		if err != nil {
			return err
		}
		var results []*goose.MigrationResult
		if cmd == "up-to" {
			results, err = p.UpTo(ctx, version)
		} else {
			results, err = p.DownTo(ctx, version)
		}
		report(out, results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-5d %-8s %-19s %s\n", s.Source.Version, s.State, applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func targetVersion(args []string) (int64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s needs a version: %w", args[0], errUsage)
	}
	v, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", args[1])
	}
	return v, nil
}

func report(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}
