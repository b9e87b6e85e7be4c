// Command kernel runs the hierarchical multi-agent orchestrator: it
// loads configuration, wires every component via pkg/kernel, and
// drives the HTTP query API and background loops until an OS signal
// requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kubernaut-labs/agentkernel/internal/config"
	"github.com/kubernaut-labs/agentkernel/pkg/kernel"
	"github.com/kubernaut-labs/agentkernel/pkg/shared/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the kernel's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, zl, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logging.Level,
		Production: cfg.Logging.Format == "json",
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := kernel.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build kernel: %w", err)
	}

	log.Info("kernel starting", "http_port", cfg.Server.HTTPPort, "runner_provider", cfg.Runner.Provider)

	startErr := make(chan error, 1)
	go func() { startErr <- k.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			logging.WithFields(log, "kernel exited with error", logging.NewFields().Component("kernel").Error(err))
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		<-startErr
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := k.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop kernel: %w", err)
	}

	log.Info("kernel stopped")
	return nil
}
