/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the lending
service and the gateway, tracking HTTP requests, inventory operations,
circuit breaker state and upstream relays.

# Features

- HTTP request metrics (latency, throughput, size, in-flight)
- Inventory operation outcomes (borrow, return, history)
- Circuit breaker gauges (state 0=closed, 1=open, 2=half_open; failures)
- Gateway upstream metrics (status, time to headers, relayed bytes)
- Storage pool usage and process uptime

# Usage

	metrics := monitoring.NewMetrics("librarian")
	router.Use(monitoring.Middleware(metrics))

	breakers := resilience.NewRegistry(resilience.WithObserver(metrics.ObserveBreaker))
	manager := inventory.NewManager(pool, breakers, inventory.WithRecorder(metrics))

# Metrics Endpoint

Every instance owns its registry; expose it with:

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
