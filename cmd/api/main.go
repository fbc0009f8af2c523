// Command api runs the memory persistence and cross-service
// synchronization core as a single long-lived process: it loads
// configuration, builds every component via the lifecycle container, and
// serves the edge HTTP API and the sync fabric's inbound transport until
// an interrupt or terminate signal asks it to drain and exit.
//
// Mirrors the teacher's cmd/main/main.go bootstrap shape (load config,
// build container, serve, wait on a signal, shut down with a grace
// window) generalized from a Lambda cold-start handler to a process that
// listens forever.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"memcore/internal/config"
	"memcore/internal/lifecycle"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("memcore: loading configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := lifecycle.Build(ctx, cfg)
	if err != nil {
		log.Printf("memcore: building container: %v", err)
		return 1
	}

	container.Start(ctx)
	container.Logger.Sugar().Infow("memcore started",
		"environment", cfg.Environment,
		"edge_addr", container.Server.Addr,
	)

	<-ctx.Done()
	container.Logger.Info("shutdown signal received, draining")

	if err := container.Shutdown(context.Background()); err != nil {
		container.Logger.Sugar().Errorw("shutdown error", "error", err)
		return 1
	}
	return 0
}
