package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/api"
	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/orchestrator"
	"github.com/dirigent-io/dirigent/pkg/pool"
	"github.com/dirigent-io/dirigent/pkg/store"
	"github.com/dirigent-io/dirigent/pkg/transport"
	"github.com/dirigent-io/dirigent/pkg/version"
)

func newServeCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration engine and its operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, envFile)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c",
		getEnv("DIRIGENT_CONFIG", ""), "path to the YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	return cmd
}

func serve(configPath, envFile string) error {
	// Load .env before anything reads the environment.
	if err := godotenv.Load(envFile); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envFile)
	}

	slog.Info("Starting dirigent",
		"version", version.Full(),
		"config", configPath)

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return userError(err)
	}

	// 2. Open the execution store
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open execution store", "error", err)
		return systemError(err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing execution store", "error", err)
		}
	}()
	slog.Info("Execution store ready", "backend", string(cfg.Storage.Backend))

	// 3. Event bus and metrics
	bus := events.NewBus(cfg.API.EventBufferSize)
	defer bus.Close()
	m := metrics.New()

	// 4. Agent-process transport
	var process agent.Process
	switch cfg.Transport.Mode {
	case config.TransportModeHTTP:
		process = transport.NewHTTP(cfg.Transport, transport.PassThroughScorer{}, m)
		slog.Info("Transport initialized", "mode", "http", "endpoint", cfg.Transport.Endpoint)
	default:
		process = transport.NewLocal(agent.DefaultStepRegistry(), transport.PassThroughScorer{})
		slog.Info("Transport initialized", "mode", "local")
	}

	// 5. Agent pools
	pools := pool.NewManager(cfg.Pools, process, bus, m)
	if err := pools.Start(ctx); err != nil {
		slog.Error("Failed to start agent pools", "error", err)
		return systemError(err)
	}

	// 6. Workflow executor
	executor := orchestrator.New(cfg.Orchestrator, pools, orchestrator.Options{
		Store:   st,
		Bus:     bus,
		Metrics: m,
	})
	if err := executor.Start(ctx); err != nil {
		slog.Error("Failed to start workflow executor", "error", err)
		return systemError(err)
	}

	// 7. Operator API
	server := api.NewServer(cfg.API, executor, pools, bus, st, m)
	errCh, err := server.Start()
	if err != nil {
		slog.Error("Failed to start API server", "error", err)
		return systemError(err)
	}

	slog.Info("Dirigent started",
		"roles", len(cfg.Pools.Roles),
		"max_workflows", cfg.Orchestrator.MaxConcurrentWorkflows)

	// 8. Wait for a shutdown signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("API server error triggered shutdown", "error", err)
	}

	// 9. Phased shutdown: drain the API first so no new work arrives, then
	// stop the executor, then the pools.
	apiCtx, apiCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
	defer apiCancel()
	if err := server.Shutdown(apiCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}

	execCtx, execCancel := context.WithTimeout(ctx, 30*time.Second)
	defer execCancel()
	if err := executor.Stop(execCtx); err != nil {
		slog.Warn("Executor did not stop cleanly", "error", err)
	}

	poolCtx, poolCancel := context.WithTimeout(ctx, 30*time.Second)
	defer poolCancel()
	if err := pools.Cleanup(poolCtx); err != nil {
		slog.Warn("Pool cleanup did not finish cleanly", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
