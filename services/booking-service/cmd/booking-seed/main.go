// Command booking-seed loads businesses, services and weekly availability
// from a YAML fixtures file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bookwell/bookwell/libs/config"
	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/runtime"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		fixturesPath = flag.String("f", "fixtures.yaml", "path to the fixtures file")
		driver       = flag.String("driver", config.String("STORE_DRIVER", "postgres"), "postgres or sqlite")
		sqlitePath   = flag.String("sqlite", config.String("SQLITE_PATH", "bookwell.db"), "sqlite database path")
	)
	flag.Parse()
	if err := config.LoadDotEnv(config.String("ENV_FILE", ".env")); err != nil {
		return err
	}
	logger := runtime.NewLogger("booking-seed")

	data, err := os.ReadFile(*fixturesPath)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	fx, err := parseFixtures(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var store *storage.SQLStore
	switch *driver {
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return err
		}
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pool.Close()
		store = storage.OpenPostgres(pool)
	case "sqlite":
		store, err = storage.OpenSQLite(*sqlitePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	default:
		return fmt.Errorf("unknown driver %q", *driver)
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	sum, err := Seed(ctx, onboarding.NewService(store), fx)
	if err != nil {
		return err
	}
	logger.Info("seed done", "businesses", sum.Businesses, "services", sum.Services, "completed", sum.Completed)
	return nil
}
