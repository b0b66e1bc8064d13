// Command waitforpostgres blocks until the configured Postgres answers a
// ping, so compose files and CI can order start-up.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("TEST_POSTGRES_DSN")
	}
	if dsn == "" {
		log.Error("DATABASE_URL or TEST_POSTGRES_DSN is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Error("invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC", "value", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("open postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			log.Info("postgres ready", "attempts", attempt)
			return
		}
		if time.Now().After(deadline) {
			log.Error("postgres not ready", "timeout", timeout, "err", err)
			db.Close()
			os.Exit(1)
		}
		log.Debug("postgres not ready yet", "attempt", attempt, "err", err)
		time.Sleep(2 * time.Second)
	}
}
