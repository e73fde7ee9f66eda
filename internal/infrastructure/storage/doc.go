// Package storage owns the bounded pool of database connections used by the
// lending service.
//
// The pool sits on database/sql through sqlx and supports two drivers:
// "pgx" (PostgreSQL) and "sqlite3". Callers check connections out with
// Acquire, which waits at most the configured acquire timeout and fails with
// ErrAcquireTimeout otherwise, and give them back with Release.
//
// Queries are built with goqu using the dialect returned by Pool.Dialect.
// Migrate creates the users, books and borrow_records tables together with
// the partial unique index allowing one open borrow per user and book.
package storage
