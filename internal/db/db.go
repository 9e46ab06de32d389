// Package db runs database work for game logic on a dedicated worker.
//
// Callers submit closures through a bounded queue; one worker goroutine runs
// them in order against a shared *sql.DB pool.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/EverCrawl/game/internal/config"
	"github.com/EverCrawl/game/internal/logger"
)

// sqlDriverNames maps configured drivers to database/sql driver names.
var sqlDriverNames = map[string]string{
	config.DriverPostgres: "pgx",
	config.DriverSQLite:   "sqlite3",
}

// ErrNotOpen is returned by Run when Open has not succeeded.
var ErrNotOpen = errors.New("database not open")

// Query is a unit of database work. It runs on the worker goroutine; ctx is
// cancelled on shutdown.
type Query func(ctx context.Context, pool *sql.DB)

// Database owns the connection pool and the submit queue.
type Database struct {
	cfg    config.Database
	queue  chan Query
	pool   *sql.DB
	logger logger.Logger
}

// New creates a Database for cfg. The submit queue holds cfg.Workers queries.
func New(cfg config.Database, log logger.Logger) *Database {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Database{
		cfg:    cfg,
		queue:  make(chan Query, workers),
		logger: log.With(logger.Field{Key: "component", Value: "database"}),
	}
}

// Open connects the pool and verifies it with a ping. A failure here is
// fatal at startup.
func (d *Database) Open(ctx context.Context) error {
	driver, ok := sqlDriverNames[d.cfg.Driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", d.cfg.Driver)
	}

	d.logger.Info("connecting", logger.Field{Key: "dsn", Value: d.cfg.Redacted()})

	pool, err := sql.Open(driver, d.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(cap(d.queue))

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	d.pool = pool
	d.logger.Info("connected")
	return nil
}

// Run drains the submit queue until ctx is done, then closes the pool.
func (d *Database) Run(ctx context.Context) error {
	if d.pool == nil {
		return ErrNotOpen
	}
	defer d.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case query := <-d.queue:
			query(ctx, d.pool)
		}
	}
}

// Submit queues query for the worker, blocking while the queue is full.
// It returns ctx's error if ctx is done first.
func (d *Database) Submit(ctx context.Context, query Query) error {
	select {
	case d.queue <- query:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d.pool == nil {
		return nil
	}
	return d.pool.Close()
}
