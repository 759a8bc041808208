// refctl is a command-line client for the entity resolver engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := NewCLI().Execute(ctx); err != nil {
		printFailure(err)
		cancel()
		os.Exit(1)
	}
}
