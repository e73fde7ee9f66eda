// Package http provides the HTTP handlers and routing of the lending service.
//
// Endpoints:
//   - Service: /, /health, /metrics
//   - Lending: POST /api/v1/borrow, POST /api/v1/return
//   - History: GET /api/v1/borrow/history, GET /api/v1/users/:id/history
//   - Breakers: GET /api/v1/breakers
//
// Errors are written as {"error": message} with the status mapped from the
// error kind; unclassified errors never leak their text.
//
// Example Usage:
//
//	handlers := http.NewHandlers(manager, breakers, pool, metrics)
//	http.RegisterRoutes(router, handlers, metrics)
package http
