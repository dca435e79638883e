package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	fleet "github.com/everydev1618/agentfleet"
)

// healthCmd runs the same backend gate as a launch, without spawning anything.
func healthCmd(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfgPath := configFlag(fs)
	timeout := fs.Duration("timeout", 10*time.Second, "Maximum time to wait for the backend")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	be := newBackend(cfg)
	if be.health == nil {
		fmt.Printf("Backend %s has no health probe.\n", cfg.Model.Backend)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status := be.health.CheckHealth(ctx)
	fmt.Printf("Server:    %s\n", cfg.Model.LocalURL())
	fmt.Printf("Model:     %s\n", cfg.Model.ModelName())
	fmt.Printf("Available: %t\n", status.Available)
	if len(status.Models) > 0 {
		fmt.Printf("Models:    %s\n", strings.Join(status.Models, ", "))
	}

	orch := fleet.NewOrchestrator(nil,
		fleet.WithHealthCheck(staticHealth(status)),
		fleet.WithRequireModel(cfg.Model.RequireModel),
	)
	if err := orch.CheckHealth(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printRemediation(cfg, err)
		return 1
	}
	fmt.Println("OK")
	return 0
}
