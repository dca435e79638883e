package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/container"
	"github.com/everydev1618/agentfleet/internal/config"
	"github.com/everydev1618/agentfleet/internal/roles"
	"github.com/everydev1618/agentfleet/serve"
)

const shutdownTimeout = 15 * time.Second

// runCmd provisions profiles, launches the fleet and supervises it until an
// interrupt or a fleet-fatal exit. It returns the process exit code.
func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := configFlag(fs)
	profiles := fs.String("profiles", "", "Comma-separated profile paths (overrides settings)")
	count := fs.Int("count", 0, "Replicas per profile (overrides settings)")
	noProvision := fs.Bool("no-provision", false, "Skip generating role profiles")
	noServer := fs.Bool("no-server", false, "Do not start the control API")

	fs.Usage = func() {
		fmt.Println(`Usage: fleet run [options]

Generate role profiles, check the model backend and launch every profile as a
supervised agent process.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  fleet run
  fleet run --profiles ./andy.json --count 3
  fleet run --config ./settings.yaml --no-server`)
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *count > 0 {
		cfg.Launch.Count = *count
	}
	if *profiles != "" {
		cfg.Profiles = splitList(*profiles)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := resolveProfiles(ctx, cfg, !*noProvision)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	be := newBackend(cfg)
	spawner, closeSpawner, err := newSpawner(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeSpawner()

	opts := []fleet.OrchestratorOption{
		fleet.WithRequireModel(cfg.Model.RequireModel),
		fleet.WithCooldown(cfg.Worker.CooldownDuration()),
		fleet.WithReplicaStagger(cfg.Worker.StaggerDuration()),
		fleet.WithProfileGap(cfg.Worker.StaggerDuration()),
		fleet.WithLogger(slog.Default()),
	}
	if be.health != nil {
		opts = append(opts, fleet.WithHealthCheck(be.health))
	}
	orch := fleet.NewOrchestrator(spawner, opts...)

	serverDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	if cfg.Server.Enabled && !*noServer {
		srv, err := openServer(cfg, orch, be)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		go func() {
			defer close(serverDone)
			if err := srv.Serve(serverCtx); err != nil {
				slog.Error("control API stopped", "error", err)
			}
		}()
	} else {
		close(serverDone)
	}
	defer func() {
		stopServer()
		<-serverDone
	}()

	workers, err := orch.Launch(ctx, paths, fleet.LaunchOptions{
		Count:       cfg.Launch.Count,
		LoadMemory:  cfg.Launch.LoadMemory,
		InitMessage: cfg.Launch.InitMessage,
		TaskPath:    cfg.Launch.TaskPath,
		TaskID:      cfg.Launch.TaskID,
	})
	if errors.Is(err, fleet.ErrFleetUnhealthy) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printRemediation(cfg, err)
		return 1
	}
	if err != nil {
		slog.Warn("some agents failed to launch", "error", err)
	}
	if len(workers) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no agents were launched")
		return 1
	}
	slog.Info("fleet launched", "agents", len(workers))

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("interrupt received, stopping agents")
	case code = <-orch.Terminated():
		slog.Warn("fleet terminated by agent", "code", code)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("agents did not stop in time", "error", err)
	}
	return code
}

// resolveProfiles generates role profiles and returns the profile list:
// explicit profiles from settings or flags win over generated ones.
func resolveProfiles(ctx context.Context, cfg *config.Config, provision bool) ([]string, error) {
	p := roles.NewProvisioner(cfg.Roles.TemplatesDir, cfg.Roles.GeneratedDir, slog.Default())
	if provision && len(cfg.Roles.Names) > 0 {
		if err := p.Generate(ctx, cfg.Roles.Names); err != nil {
			return nil, fmt.Errorf("provision roles: %w", err)
		}
	}
	if len(cfg.Profiles) > 0 {
		return cfg.Profiles, nil
	}

	paths, err := p.ProfilePaths()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fleet.ErrNoProfiles
	}
	return paths, nil
}

// newSpawner builds the worker runtime selected by worker.runtime.
func newSpawner(ctx context.Context, cfg *config.Config) (fleet.Spawner, func(), error) {
	if strings.ToLower(cfg.Worker.Runtime) != "docker" {
		return &fleet.ExecSpawner{
			Command: cfg.Worker.Command,
			Dir:     cfg.Worker.Dir,
			Env:     cfg.Agent.Env(),
		}, func() {}, nil
	}

	opts := []container.SpawnerOption{
		container.WithImage(cfg.Worker.Image),
		container.WithEnv(cfg.Agent.Env()...),
		container.WithLogger(slog.Default()),
	}
	if cfg.Worker.Dir != "" {
		opts = append(opts, container.WithWorkDir(cfg.Worker.Dir))
	}
	s, err := container.NewSpawner(cfg.Worker.Command, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("docker runtime: %w", err)
	}
	if err := s.Cleanup(ctx); err != nil {
		slog.Warn("stale agent containers not removed", "error", err)
	}
	return s, func() { s.Close() }, nil
}

func openServer(cfg *config.Config, orch *fleet.Orchestrator, be backend) (*serve.Server, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		if err := fleet.EnsureHome(); err != nil {
			return nil, fmt.Errorf("create fleet home: %w", err)
		}
		dbPath = fleet.DefaultDBPath()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := serve.New(orch, be.health, serve.Config{
		Addr:   cfg.Server.Addr(),
		DBPath: dbPath,
	})
	if err := srv.Open(); err != nil {
		return nil, err
	}
	fmt.Printf("Control API: http://%s/api/agents\n", cfg.Server.Addr())
	return srv, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
