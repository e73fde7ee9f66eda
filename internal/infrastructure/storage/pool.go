package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// ErrAcquireTimeout is returned when no connection became free within the
// acquire timeout.
var ErrAcquireTimeout = errors.New("timed out acquiring a storage connection")

// Pool is a bounded pool of storage connections.
type Pool struct {
	db             *sqlx.DB
	driver         string
	dialect        goqu.DialectWrapper
	acquireTimeout time.Duration
}

// Open creates the pool and verifies the database is reachable.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	// Configure connection pool settings
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// WAL lets readers proceed while a borrow holds the write lock.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Pool{
		db:             db,
		driver:         cfg.Driver,
		dialect:        dialect,
		acquireTimeout: timeout,
	}, nil
}

func dialectFor(driver string) (goqu.DialectWrapper, error) {
	switch driver {
	case DriverPostgres:
		return goqu.Dialect("postgres"), nil
	case DriverSQLite:
		return goqu.Dialect("sqlite3"), nil
	default:
		return goqu.DialectWrapper{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Acquire takes a connection from the pool, waiting at most the acquire
// timeout. The caller must Release it.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	c, err := p.db.Connx(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.acquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Conn{Conn: c}, nil
}

// Dialect returns the query builder for the pool's driver. Queries built
// from it must use Prepared(true) so values travel as bind arguments.
func (p *Pool) Dialect() goqu.DialectWrapper {
	return p.dialect
}

// Driver returns the database/sql driver name.
func (p *Pool) Driver() string {
	return p.driver
}

// DB exposes the underlying handle for migrations and administrative tasks.
func (p *Pool) DB() *sqlx.DB {
	return p.db
}

// Ping verifies a connection can be established.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Stats reports the pool usage counters.
func (p *Pool) Stats() PoolStats {
	s := p.db.Stats()
	return PoolStats{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		MaxOpen:      s.MaxOpenConnections,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// Close closes every connection. In-flight connections are closed when
// released.
func (p *Pool) Close() error {
	return p.db.Close()
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	MaxOpen      int           `json:"max_open"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// Conn is a connection checked out of the pool.
type Conn struct {
	*sqlx.Conn
	once sync.Once
	err  error
}

// Release returns the connection to the pool. Safe to call more than once.
func (c *Conn) Release() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}
