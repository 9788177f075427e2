package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/drydock-sh/drydock/internal/core/deployment"
	"github.com/drydock-sh/drydock/internal/core/env"
	"github.com/drydock-sh/drydock/internal/core/pipeline"
	"github.com/drydock-sh/drydock/internal/core/topology"
	"github.com/drydock-sh/drydock/internal/shell/api"
	"github.com/drydock-sh/drydock/internal/shell/docker"
	"github.com/drydock-sh/drydock/internal/shell/history"
)

// =============================================================================
// up
// =============================================================================

func upCmd(args []string) int {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topologyPath := fs.String("f", "drydock.yaml", "Path to topology file")
	id := fs.String("id", "", "Deployment ID (generated when empty)")
	fs.Parse(args)

	cfg, logger, code := setup(*configPath)
	if code != ExitSuccess {
		return code
	}

	if *id == "" {
		*id = deployment.NewID()
	}

	plan, err := loadPlan(cfg, *topologyPath, *id)
	if err != nil {
		logger.Error("failed to build deployment plan", "error", err)
		return ExitPlanError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, code := newOrchestrator(ctx, cfg, logger)
	if code != ExitSuccess {
		return code
	}
	defer cleanup()

	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}
	recordBegin(ctx, store, logger, plan.ID, "up", *topologyPath)

	statuses, err := orch.Up(ctx, plan)
	if err != nil {
		logger.Error("deployment failed", "deployment_id", plan.ID, "error", err)
		recordFinish(store, logger, plan.ID, history.RunStatusFailed, err.Error())
		return ExitRunFailed
	}

	recordFinish(store, logger, plan.ID, history.RunStatusSucceeded, "")
	fmt.Printf("deployment %s is up\n", plan.ID)
	for _, name := range plan.StartOrder {
		fmt.Printf("  %-20s %s\n", name, statuses[name])
	}
	return ExitSuccess
}

// =============================================================================
// down
// =============================================================================

func downCmd(args []string) int {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topologyPath := fs.String("f", "drydock.yaml", "Path to topology file")
	id := fs.String("id", "", "Deployment ID (required)")
	purge := fs.Bool("purge", false, "Also destroy named volume data")
	removeImages := fs.Bool("rmi", false, "Also remove images built for this deployment")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "down: -id is required")
		return ExitConfigError
	}

	cfg, logger, code := setup(*configPath)
	if code != ExitSuccess {
		return code
	}

	plan, err := loadPlan(cfg, *topologyPath, *id)
	if err != nil {
		logger.Error("failed to build deployment plan", "error", err)
		return ExitPlanError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, code := newOrchestrator(ctx, cfg, logger)
	if code != ExitSuccess {
		return code
	}
	defer cleanup()

	report := orch.Down(ctx, plan, docker.DownOptions{
		PurgeVolumes: *purge,
		RemoveImages: *removeImages,
	})
	if !report.Empty() {
		fmt.Fprintln(os.Stderr, report.Error())
		return ExitRunFailed
	}

	fmt.Printf("deployment %s removed\n", *id)
	return ExitSuccess
}

// =============================================================================
// ci
// =============================================================================

func ciCmd(args []string) int {
	fs := flag.NewFlagSet("ci", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topologyPath := fs.String("f", "drydock.yaml", "Path to topology file")
	skipLint := fs.Bool("skip-lint", false, "Skip the LINT phase")
	fs.Parse(args)

	cfg, logger, code := setup(*configPath)
	if code != ExitSuccess {
		return code
	}

	id := deployment.NewID()
	plan, err := loadPlan(cfg, *topologyPath, id)
	if err != nil {
		logger.Error("failed to build deployment plan", "error", err)
		return ExitPlanError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.Timeout)
		defer cancel()
	}

	orch, cleanup, code := newOrchestrator(ctx, cfg, logger)
	if code != ExitSuccess {
		return code
	}
	defer cleanup()

	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}
	recordBegin(ctx, store, logger, id, "ci", *topologyPath)

	hooks := pipeline.Hooks{
		Build: func(ctx context.Context) error {
			return orch.BuildImages(ctx, plan)
		},
		Run: func(ctx context.Context) error {
			_, err := orch.Up(ctx, plan)
			return err
		},
		Test: func(ctx context.Context) error {
			return runHostCommand(ctx, cfg, logger, cfg.Pipeline.TestCommand)
		},
		Lint: func(ctx context.Context) error {
			if *skipLint {
				return nil
			}
			return runHostCommand(ctx, cfg, logger, cfg.Pipeline.LintCommand)
		},
		Cleanup: func(ctx context.Context) error {
			return orch.Down(ctx, plan, docker.DownOptions{PurgeVolumes: true, RemoveImages: true}).Err()
		},
	}

	result := pipeline.NewRunner(hooks, logger).Run(ctx)
	recordPhases(store, logger, id, result)

	if err := result.Err(); err != nil {
		logger.Error("pipeline failed", "deployment_id", id, "error", err)
		recordFinish(store, logger, id, history.RunStatusFailed, err.Error())
		return ExitRunFailed
	}

	recordFinish(store, logger, id, history.RunStatusSucceeded, "")
	fmt.Printf("pipeline passed for deployment %s\n", id)
	return ExitSuccess
}

// =============================================================================
// status
// =============================================================================

func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	id := fs.String("id", "", "Deployment ID (required)")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "status: -id is required")
		return ExitConfigError
	}

	cfg, logger, code := setup(*configPath)
	if code != ExitSuccess {
		return code
	}

	ctx := context.Background()
	orch, cleanup, code := newOrchestrator(ctx, cfg, logger)
	if code != ExitSuccess {
		return code
	}
	defer cleanup()

	states, err := orch.Status(ctx, *id)
	if err != nil {
		logger.Error("failed to get deployment status", "deployment_id", *id, "error", err)
		return ExitDockerError
	}
	if len(states) == 0 {
		fmt.Printf("no containers for deployment %s\n", *id)
		return ExitSuccess
	}

	for _, s := range states {
		if s.Health != "" {
			fmt.Printf("  %-20s %s (%s)\n", s.Service, s.Status, s.Health)
			continue
		}
		fmt.Printf("  %-20s %s\n", s.Service, s.Status)
	}
	return ExitSuccess
}

// =============================================================================
// serve
// =============================================================================

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, logger, code := setup(*configPath)
	if code != ExitSuccess {
		return code
	}

	client, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		logger.Error("failed to create docker client", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	store, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		logger.Error("failed to open history database", "dsn", cfg.History.DSN, "error", err)
		return ExitConfigError
	}
	defer store.Close()

	orch := docker.NewOrchestrator(client, logger)
	handler := api.NewHandler(client, orch, store, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "address", cfg.Server.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
		return ExitRunFailed
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return ExitSuccess
}

// =============================================================================
// Helpers
// =============================================================================

// setup loads configuration and builds the logger.
func setup(configPath string) (*Config, *slog.Logger, int) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, nil, ExitConfigError
	}
	return cfg, SetupLogger(cfg), ExitSuccess
}

// loadPlan parses the topology file and resolves it into a deployment plan.
func loadPlan(cfg *Config, topologyPath, id string) (*deployment.Plan, error) {
	content, err := os.ReadFile(topologyPath)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}

	spec, err := topology.Parse(string(content))
	if err != nil {
		return nil, err
	}

	opts := []env.Option{env.WithLookup(os.LookupEnv)}
	if cfg.Secrets.File != "" {
		store, err := env.OpenFileStore(cfg.Secrets.File, cfg.Secrets.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("open secret store: %w", err)
		}
		opts = append(opts, env.WithSecretStore(store))
	}

	return deployment.NewPlan(id, spec, env.NewResolver(opts...))
}

// newOrchestrator connects to Docker and verifies the connection.
func newOrchestrator(ctx context.Context, cfg *Config, logger *slog.Logger) (*docker.Orchestrator, func(), int) {
	client, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		logger.Error("failed to create docker client", "error", err)
		return nil, nil, ExitDockerError
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		logger.Error("docker daemon unreachable", "error", err)
		return nil, nil, ExitDockerError
	}

	orch := docker.NewOrchestrator(client, logger,
		docker.WithReadyTimeout(cfg.Docker.ReadyTimeout),
		docker.WithStopTimeout(cfg.Docker.StopTimeout),
	)
	return orch, func() { client.Close() }, ExitSuccess
}

// openHistory opens the run history store. History is advisory: failures are
// logged and the command proceeds without persistence.
func openHistory(cfg *Config, logger *slog.Logger) *history.Store {
	if cfg.History.DSN == "" {
		return nil
	}
	store, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		logger.Warn("run history disabled", "dsn", cfg.History.DSN, "error", err)
		return nil
	}
	return store
}

func recordBegin(ctx context.Context, store *history.Store, logger *slog.Logger, id, command, topologyFile string) {
	if store == nil {
		return
	}
	err := store.BeginRun(ctx, &history.Run{ID: id, Command: command, TopologyFile: topologyFile})
	if err != nil {
		logger.Warn("failed to record run start", "run_id", id, "error", err)
	}
}

func recordFinish(store *history.Store, logger *slog.Logger, id string, status history.RunStatus, errMsg string) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.FinishRun(ctx, id, status, errMsg); err != nil {
		logger.Warn("failed to record run finish", "run_id", id, "error", err)
	}
}

func recordPhases(store *history.Store, logger *slog.Logger, id string, result pipeline.Result) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range result.Phases {
		rec := &history.PhaseRecord{
			RunID:    id,
			Phase:    p.Phase.String(),
			Status:   history.PhaseStatusPassed,
			Duration: p.Duration,
		}
		if p.Skipped {
			rec.Status = history.PhaseStatusSkipped
		} else if p.Err != nil {
			rec.Status = history.PhaseStatusFailed
			rec.Error = p.Err.Error()
		}
		if err := store.RecordPhase(ctx, rec); err != nil {
			logger.Warn("failed to record phase", "run_id", id, "phase", rec.Phase, "error", err)
		}
	}
}

// runHostCommand runs one pipeline command through the shell, streaming its
// output to the drydock process's stdout and stderr.
func runHostCommand(ctx context.Context, cfg *Config, logger *slog.Logger, command string) error {
	if command == "" {
		return nil
	}
	logger.Info("running pipeline command", "command", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cfg.Pipeline.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q: %w", command, err)
	}
	return nil
}
