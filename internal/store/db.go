package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolOptions bound the database/sql pool.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	// ConnectTimeout is how long Open keeps retrying the first ping.
	ConnectTimeout time.Duration
}

var DefaultPool = PoolOptions{
	MaxOpen:        20,
	MaxIdle:        10,
	MaxIdleTime:    5 * time.Minute,
	MaxLifetime:    30 * time.Minute,
	ConnectTimeout: 20 * time.Second,
}

// Open connects with DefaultPool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenWith(ctx, databaseURL, DefaultPool, nil)
}

// OpenWith connects through the pgx driver and waits for the server to
// answer, retrying with a doubling delay until ConnectTimeout.
func OpenWith(ctx context.Context, databaseURL string, opts PoolOptions, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(opts.MaxIdleTime)
	db.SetConnMaxLifetime(opts.MaxLifetime)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetMaxOpenConns(opts.MaxOpen)

	deadline := time.Now().Add(opts.ConnectTimeout)
	delay := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if time.Now().Add(delay).After(deadline) {
			break
		}
		logger.Warn("database not ready", "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, 5*time.Second)
	}
	_ = db.Close()
	return nil, fmt.Errorf("ping db: %w", err)
}
