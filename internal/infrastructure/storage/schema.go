package storage

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
)

const schemaVersion = 1

// At most one open borrow per (user, book) is enforced by a partial unique
// index; both PostgreSQL and SQLite support the WHERE clause.
var schemas = map[string][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS borrow_records (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			book_id BIGINT NOT NULL REFERENCES books(id),
			borrow_date TIMESTAMPTZ NOT NULL,
			return_date TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS borrow_records_active_uq
			ON borrow_records (user_id, book_id) WHERE return_date IS NULL`,
		`CREATE INDEX IF NOT EXISTS borrow_records_user_idx ON borrow_records (user_id, borrow_date DESC)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS borrow_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			book_id INTEGER NOT NULL REFERENCES books(id),
			borrow_date DATETIME NOT NULL,
			return_date DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS borrow_records_active_uq
			ON borrow_records (user_id, book_id) WHERE return_date IS NULL`,
		`CREATE INDEX IF NOT EXISTS borrow_records_user_idx ON borrow_records (user_id, borrow_date DESC)`,
	},
}

// Migrate creates the lending tables when they are missing. It records the
// applied version in schema_meta and is a no-op once current.
func (p *Pool) Migrate(ctx context.Context) error {
	stmts, ok := schemas[p.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", p.driver)
	}

	if _, err := p.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	current, err := p.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	upsert, args, err := p.dialect.Insert("schema_meta").
		Rows(goqu.Record{"key": "schema_version", "value": schemaVersion}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{"value": schemaVersion})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build schema version upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion returns the applied schema version, 0 when none.
func (p *Pool) SchemaVersion(ctx context.Context) (int, error) {
	query, args, err := p.dialect.From("schema_meta").
		Select("value").
		Where(goqu.C("key").Eq("schema_version")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build schema version query: %w", err)
	}

	var versions []int
	if err := p.db.SelectContext(ctx, &versions, query, args...); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}
