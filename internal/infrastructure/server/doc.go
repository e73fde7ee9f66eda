// Package server assembles the lending service and the gateway from
// configuration.
//
// Server Lifecycle:
//  1. Load configuration from the environment
//  2. Initialize logger, metrics, tracer and circuit breakers
//  3. Open and migrate the storage pool (service only)
//  4. Setup HTTP routes and middleware
//  5. Serve until the context is cancelled
//  6. Shut down gracefully, then Close
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//	err = srv.Run(ctx)
package server
