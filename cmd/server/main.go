package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/ssebroadcast/internal/adapter/httpserver"
	"github.com/pscheid92/ssebroadcast/internal/app"
	"github.com/pscheid92/ssebroadcast/internal/broadcast"
	"github.com/pscheid92/ssebroadcast/internal/platform/config"
	"github.com/pscheid92/ssebroadcast/internal/platform/logging"
	"github.com/pscheid92/ssebroadcast/internal/platform/version"
	"github.com/pscheid92/ssebroadcast/internal/sysinfo"
	"github.com/spf13/cobra"
)

type serverFlags struct {
	host    string
	port    string
	workers int
}

// apply overrides environment settings with flags given explicitly on the command line.
func (f serverFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = f.workers
	}
}

func newRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:          "ssebroadcast",
		Short:        "Fan-out broadcast server for Server-Sent Events",
		Version:      version.Get().String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "listen host (overrides HOST)")
	cmd.Flags().StringVar(&flags.port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "GOMAXPROCS, 0 for the runtime default (overrides WORKERS)")

	return cmd
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, hub *broadcast.Hub, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stops the sweep loop and any running producer.
		stopBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Streams are long-lived requests; end them first so the HTTP server can drain.
		hub.Shutdown(shutdownCtx)

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func run(cfg *config.Config) error {
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Workers)
	}
	slog.Info("Application starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "workers", runtime.GOMAXPROCS(0), "version", version.Version)

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub(clock, broadcast.Options{
		QueueCapacity: cfg.QueueCapacity,
		AckMessage:    cfg.AckMessage,
		SendTimeout:   cfg.SendTimeout,
		SweepInterval: cfg.SweepInterval,
	})
	go hub.Run(ctx)

	sampler := sysinfo.NewSampler()
	cpuPublisher := app.NewCPUPublisher(hub, sampler, clock, cfg.CPUChannel, cfg.CPUInterval)

	healthChecks := []httpserver.HealthCheck{
		{Name: "hub", Check: hub.Check},
		{Name: "cpu_sampler", Check: sampler.Check},
	}

	srv, err := httpserver.NewServer(ctx, cfg, clock, hub, cpuPublisher, sampler, healthChecks)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	done := runGracefulShutdown(cfg, srv, hub, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		return err
	}

	<-done
	slog.Info("Server stopped")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
