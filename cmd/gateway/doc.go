// Package main is the entry point of the authenticating gateway.
//
// Every request is checked against the public path allow-list or a bearer
// token signed with SECRET_KEY, then streamed to FORWARD_URL.
//
// Usage:
//
//	FORWARD_URL=http://library:8000 SECRET_KEY=... ./gateway -port 5000
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
