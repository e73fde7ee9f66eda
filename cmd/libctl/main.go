// Command libctl runs administrative tasks against the lending service's
// storage and issues gateway tokens.
//
// Usage:
//
//	libctl migrate
//	libctl seed
//	libctl token --subject 42 --ttl 1h
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
