// Package main is the entry point of the library lending service.
//
// The service exposes borrow and return operations over a pooled SQL store
// (SQLite or PostgreSQL), guarded by circuit breakers.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# SQLite file in the working directory
//	./server -port 8000
//
//	# PostgreSQL
//	DB_DRIVER=pgx DB_DSN=postgres://lib:lib@db:5432/library ./server
//
//	# Development mode (colored logs)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
