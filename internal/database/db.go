// Package database provides the engine-neutral database abstraction: scoped
// sessions with commit/rollback guarantees, tenant-filtered queries, slow
// query telemetry, and transient-error retries. Two engines are supported:
// sqlite (file-embedded, development) and postgres (server, production).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"       // Postgres driver
	_ "modernc.org/sqlite"      // CGO-free sqlite driver
)

// Engine selects the backing database.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineSQLite   Engine = "sqlite"
)

// Config tunes the connection pool and telemetry.
type Config struct {
	Engine             Engine
	URL                string
	PoolSize           int
	PoolOverflow       int
	PoolTimeout        time.Duration
	PoolRecycle        time.Duration
	StatementTimeout   time.Duration
	SlowQueryThreshold time.Duration
}

// DefaultConfig returns pool defaults, shrunk when a constrained PaaS
// environment is detected.
func DefaultConfig(engine Engine, url string) Config {
	cfg := Config{
		Engine:             engine,
		URL:                url,
		PoolSize:           10,
		PoolOverflow:       20,
		PoolTimeout:        30 * time.Second,
		PoolRecycle:        30 * time.Minute,
		StatementTimeout:   30 * time.Second,
		SlowQueryThreshold: time.Second,
	}
	if onConstrainedPaaS() {
		cfg.PoolSize = 3
		cfg.PoolOverflow = 5
	}
	return cfg
}

// onConstrainedPaaS detects small-dyno style environments where large pools
// exhaust the database's connection budget.
func onConstrainedPaaS() bool {
	for _, key := range []string{"DYNO", "RENDER", "RAILWAY_ENVIRONMENT", "FLY_APP_NAME"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// DB wraps database/sql with engine-aware behavior.
type DB struct {
	cfg    Config
	sqlDB  *sql.DB
	logger *log.Logger
}

// Open connects, configures the pool, and applies per-engine startup
// optimizations.
func Open(cfg Config) (*DB, error) {
	driver := "postgres"
	if cfg.Engine == EngineSQLite {
		driver = "sqlite"
	}

	sqlDB, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "open", Err: err}
	}

	sqlDB.SetMaxOpenConns(cfg.PoolSize + cfg.PoolOverflow)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxLifetime(cfg.PoolRecycle)

	// Pre-ping: fail fast on a dead URL instead of on first query.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PoolTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, &Error{Kind: KindConnection, Op: "ping", Err: err}
	}

	db := &DB{
		cfg:    cfg,
		sqlDB:  sqlDB,
		logger: log.New(log.Writer(), "[DB] ", log.LstdFlags),
	}

	if err := db.applyStartupOptimizations(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	slog.Info("database connected", "engine", string(cfg.Engine), "pool", cfg.PoolSize)
	return db, nil
}

// applyStartupOptimizations tunes the engine once per process: statement
// timeout and work_mem on postgres, WAL journaling and cache sizing on
// sqlite.
func (db *DB) applyStartupOptimizations(ctx context.Context) error {
	var statements []string
	switch db.cfg.Engine {
	case EnginePostgres:
		statements = []string{
			fmt.Sprintf("SET statement_timeout = %d", db.cfg.StatementTimeout.Milliseconds()),
			"SET work_mem = '16MB'",
		}
	case EngineSQLite:
		statements = []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -20000",
			"PRAGMA busy_timeout = 5000",
		}
	}
	for _, stmt := range statements {
		if _, err := db.sqlDB.ExecContext(ctx, stmt); err != nil {
			return &Error{Kind: KindQuery, Op: "startup optimization", Err: fmt.Errorf("%s: %w", stmt, err)}
		}
	}
	return nil
}

// Engine returns the configured engine.
func (db *DB) Engine() Engine { return db.cfg.Engine }

// URL returns the connection URL (for the backup orchestrator's dump tool).
func (db *DB) URL() string { return db.cfg.URL }

// Raw exposes the underlying pool for collaborators that manage their own
// statements (migration engine, backup dumps).
func (db *DB) Raw() *sql.DB { return db.sqlDB }

// Close releases the pool.
func (db *DB) Close() error { return db.sqlDB.Close() }

// Rebind converts ?-style placeholders to the engine's dialect. Queries are
// written with ? throughout; postgres gets $1..$n.
func (db *DB) Rebind(query string) string {
	if db.cfg.Engine != EnginePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Health runs the engine-appropriate keep-alive query and reports round-trip
// latency.
func (db *DB) Health(ctx context.Context) (status string, rtt time.Duration, err error) {
	start := time.Now()
	query := "SELECT 1"
	var one int
	if err := db.sqlDB.QueryRowContext(ctx, query).Scan(&one); err != nil {
		return "unhealthy", time.Since(start), &Error{Kind: KindConnection, Op: "health", Err: err}
	}
	return "healthy", time.Since(start), nil
}
