// server is the entity resolver binary. It serves the MCP tools over stdio,
// or the REST API plus an MCP-over-HTTP endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lerian-entity-resolver/internal/api"
	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/di"
	"lerian-entity-resolver/internal/mcp"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		mode = flag.String("mode", "stdio", "Server mode: stdio or http")
		addr = flag.String("addr", "", "HTTP server address (when mode=http); defaults to the configured host and port")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *mode, *addr); err != nil {
		cancel()
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode, addr string) error {
	var opts []di.Option
	switch mode {
	case "stdio":
		// stdout carries JSON-RPC frames
		opts = append(opts, di.WithLogOutput(os.Stderr))
	case "http":
	default:
		return fmt.Errorf("invalid mode %q, use 'stdio' or 'http'", mode)
	}

	c, err := di.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	rs, err := mcp.NewResolverServer(c.Engine, version, c.Logger)
	if err != nil {
		return err
	}

	if mode == "stdio" {
		c.Logger.Info("Starting entity resolver in stdio mode", "version", version)
		if err := rs.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	if addr == "" {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}
	srv := newHTTPServer(c, rs, addr)
	c.Logger.Info("Starting entity resolver in HTTP mode", "addr", addr, "version", version)
	return serveHTTP(ctx, srv)
}

// newHTTPServer mounts the MCP endpoint next to the REST API
func newHTTPServer(c *di.Container, rs *mcp.ResolverServer, addr string) *http.Server {
	router := api.NewRouter(c.Config, c.Engine,
		api.WithMetrics(c.Metrics),
		api.WithLogger(c.Logger),
		api.WithProbe("context_store", c.HealthCheck),
		api.WithVersion(version),
		api.WithMount("/mcp", rs.HTTPHandler()),
		api.WithEventStream(c.Events),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(c.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(c.Config.Server.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
