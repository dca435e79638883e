package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/internal/config"
	"github.com/everydev1618/agentfleet/llm"
)

// backend is the configured model client with its optional health probe.
type backend struct {
	client llm.Client
	health llm.HealthChecker
	vision llm.VisionClient
}

func newBackend(cfg *config.Config) backend {
	if strings.ToLower(cfg.Model.Backend) == "cloud" {
		opts := []llm.Option{llm.WithModel(cfg.Model.CloudModel)}
		if cfg.Model.APIKey != "" {
			opts = append(opts, llm.WithAPIKey(cfg.Model.APIKey))
		}
		cloud := llm.NewCloud(opts...)
		return backend{client: cloud, vision: cloud}
	}

	local := llm.NewLocal(
		llm.WithBaseURL(cfg.Model.LocalURL()),
		llm.WithModel(cfg.Model.ModelName()),
	)
	return backend{client: local, health: local}
}

// printRemediation explains how to fix a failed health gate.
func printRemediation(cfg *config.Config, err error) {
	var herr *fleet.HealthError
	if !errors.As(err, &herr) {
		return
	}

	fmt.Fprintln(os.Stderr)
	if !herr.Status.Available {
		fmt.Fprintf(os.Stderr, "  The local model server at %s is not reachable.\n", cfg.Model.LocalURL())
		fmt.Fprintln(os.Stderr, "  Install it from https://ollama.com/download and start it with:")
		fmt.Fprintln(os.Stderr, "      ollama serve")
		fmt.Fprintln(os.Stderr, "  or point OLLAMA_HOST / OLLAMA_PORT at a running server.")
		return
	}

	model := cfg.Model.ModelName()
	fmt.Fprintf(os.Stderr, "  The model %q is not available on the server.\n", model)
	fmt.Fprintln(os.Stderr, "  Pull it with:")
	fmt.Fprintf(os.Stderr, "      ollama pull %s\n", model)
	if len(herr.Status.Models) > 0 {
		fmt.Fprintf(os.Stderr, "  Available models: %s\n", strings.Join(herr.Status.Models, ", "))
	}
}

// staticHealth replays a health result already fetched.
type staticHealth llm.HealthStatus

func (s staticHealth) CheckHealth(context.Context) llm.HealthStatus {
	return llm.HealthStatus(s)
}
