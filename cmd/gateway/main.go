package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override environment variables
	flag.StringVar(&cfg.Gateway.Port, "port", cfg.Gateway.Port, "Gateway port")
	flag.StringVar(&cfg.Gateway.Host, "host", cfg.Gateway.Host, "Gateway host")
	flag.StringVar(&cfg.Gateway.UpstreamURL, "upstream", cfg.Gateway.UpstreamURL, "Upstream base URL")
	flag.DurationVar(&cfg.Gateway.UpstreamTimeout, "upstream-timeout", cfg.Gateway.UpstreamTimeout, "Upstream timeout")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development mode (console logs)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := server.NewGatewayServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	runErr := gw.Run(ctx)
	if err := gw.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Gateway error: %v", runErr)
	}
}
