// Package storagetest provides throwaway databases for package tests.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage"
	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/require"
)

// SQLiteConfig returns a pool configuration for a fresh file in t's temp dir.
// Transactions start with BEGIN IMMEDIATE so concurrent writers queue on the
// busy timeout instead of failing on lock upgrades.
func SQLiteConfig(t testing.TB) config.DatabaseConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.db")
	return config.DatabaseConfig{
		Driver:           storage.DriverSQLite,
		DSN:              fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path),
		PoolMin:          1,
		PoolMax:          5,
		AcquireTimeout:   5 * time.Second,
		StatementTimeout: 10 * time.Second,
		ConnMaxLifetime:  time.Hour,
		ConnMaxIdleTime:  5 * time.Minute,
		Migrate:          true,
	}
}

// NewPool opens and migrates a pool for cfg, closing it when t ends.
func NewPool(t testing.TB, cfg config.DatabaseConfig) *storage.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := storage.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, pool.Migrate(ctx))
	return pool
}

// NewSQLite opens a migrated, empty SQLite pool.
func NewSQLite(t testing.TB) *storage.Pool {
	t.Helper()
	return NewPool(t, SQLiteConfig(t))
}

// InsertUser adds a user and returns its id.
func InsertUser(t testing.TB, pool *storage.Pool, name string) int64 {
	t.Helper()
	return insert(t, pool, "users", goqu.Record{"name": name})
}

// InsertBook adds a book and returns its id.
func InsertBook(t testing.TB, pool *storage.Pool, title string, quantity int) int64 {
	t.Helper()
	return insert(t, pool, "books", goqu.Record{"title": title, "author": "Author of " + title, "quantity": quantity})
}

// BookQuantity reads the current quantity of a book.
func BookQuantity(t testing.TB, pool *storage.Pool, bookID int64) int {
	t.Helper()
	query, args, err := pool.Dialect().From("books").Select("quantity").
		Where(goqu.C("id").Eq(bookID)).Prepared(true).ToSQL()
	require.NoError(t, err)

	var quantity int
	require.NoError(t, pool.DB().GetContext(context.Background(), &quantity, query, args...))
	return quantity
}

// CountRecords counts borrow records for a user and book, optionally only
// the open ones.
func CountRecords(t testing.TB, pool *storage.Pool, userID, bookID int64, activeOnly bool) int {
	t.Helper()
	ds := pool.Dialect().From("borrow_records").Select(goqu.COUNT("*")).
		Where(goqu.C("user_id").Eq(userID), goqu.C("book_id").Eq(bookID))
	if activeOnly {
		ds = ds.Where(goqu.C("return_date").IsNull())
	}
	query, args, err := ds.Prepared(true).ToSQL()
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.DB().GetContext(context.Background(), &n, query, args...))
	return n
}

// insert relies on LastInsertId and is SQLite-only.
func insert(t testing.TB, pool *storage.Pool, table string, row goqu.Record) int64 {
	t.Helper()
	query, args, err := pool.Dialect().Insert(table).Rows(row).Prepared(true).ToSQL()
	require.NoError(t, err)

	res, err := pool.DB().ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
