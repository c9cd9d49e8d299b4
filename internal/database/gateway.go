package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gatescope/gatescope/internal/config"
	"github.com/gatescope/gatescope/internal/metrics"
)

// Gateway is the connection pool to the gateway's primary database. All
// query helpers accept `?` placeholders and rebind them for Postgres, so the
// analytical SQL is written once for both engines.
type Gateway struct {
	db      *sql.DB
	engine  Engine
	timeout time.Duration

	tableMemo sync.Map
}

func OpenGateway(cfg config.GatewayConfig) (*Gateway, error) {
	engine, err := ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = composeDSN(engine, cfg)
	}

	driver := "pgx"
	if engine == EngineMySQL {
		driver = "mysql"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open gateway database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to gateway database: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Gateway{db: db, engine: engine, timeout: timeout}, nil
}

// NewGatewayWithDB wraps an existing handle; used by tests.
func NewGatewayWithDB(db *sql.DB, engine Engine) *Gateway {
	return &Gateway{db: db, engine: engine, timeout: 30 * time.Second}
}

func composeDSN(engine Engine, cfg config.GatewayConfig) string {
	if engine.IsPG() {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
			cfg.Host, cfg.Port, cfg.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

func (g *Gateway) Engine() Engine { return g.engine }
func (g *Gateway) IsPG() bool     { return g.engine.IsPG() }

// Rebind rewrites `?` placeholders for the active dialect.
func (g *Gateway) Rebind(query string) string { return g.engine.Rebind(query) }

// Placeholder returns the dialect form for the i-th parameter (1-based).
func (g *Gateway) Placeholder(i int) string { return g.engine.Placeholder(i) }

func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.db.PingContext(ctx)
}

func (g *Gateway) Close() error { return g.db.Close() }

// Query runs a read query and returns rows as column mappings. The default
// query timeout applies unless ctx carries an earlier deadline.
func (g *Gateway) Query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, g.engine.Rebind(query), args...)
	metrics.ObserveGatewayQuery(err)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// QueryTimeout runs a read query with an explicit timeout instead of the
// pool default.
func (g *Gateway) QueryTimeout(timeout time.Duration, query string, args ...interface{}) ([]Row, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, g.engine.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// QueryOne returns the first row, or (nil, nil) when the query matches
// nothing.
func (g *Gateway) QueryOne(ctx context.Context, query string, args ...interface{}) (Row, error) {
	rows, err := g.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Execute runs a write statement and returns the affected row count.
func (g *Gateway) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, g.engine.Rebind(query), args...)
	metrics.ObserveGatewayQuery(err)
	if err != nil {
		return 0, fmt.Errorf("execute failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// ExecuteTimeout runs a write or DDL statement with an explicit timeout;
// index builds need far more than the pool default.
func (g *Gateway) ExecuteTimeout(timeout time.Duration, query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, g.engine.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("execute failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// Tx runs fn inside a transaction, rolling back on error. Statements inside
// fn must already be rebound; use Rebind explicitly.
func (g *Gateway) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// TableExists probes the catalog for an optional table such as quota_data
// or checkins. Results are memoized for the process lifetime.
func (g *Gateway) TableExists(ctx context.Context, name string) (bool, error) {
	if cached, ok := g.tableMemo.Load(name); ok {
		return cached.(bool), nil
	}

	row, err := g.QueryOne(ctx, g.engine.tableExistsQuery(), name)
	if err != nil {
		return false, err
	}
	exists := row != nil && row.Int64("n") > 0
	g.tableMemo.Store(name, exists)
	return exists, nil
}
