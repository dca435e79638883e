// Package main provides the fleet CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/everydev1618/agentfleet/internal/config"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(runCmd(args))
	case "provision":
		os.Exit(provisionCmd(args))
	case "health":
		os.Exit(healthCmd(args))
	case "ask":
		os.Exit(askCmd(args))
	case "version":
		fmt.Printf("fleet %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Fleet - LLM agent fleet launcher

Usage:
  fleet <command> [options]

Commands:
  run        Provision role profiles and launch the supervised agent fleet
  provision  Generate agent profiles from role templates
  health     Check the model backend
  ask        Send a single prompt to the configured model
  version    Print version information
  help       Show this help message

Examples:
  fleet run
  fleet run --profiles ./andy.json,./jill.json --count 2
  fleet health
  fleet ask "What is the capital of France?"

Run 'fleet <command> --help' for more information on a command.`)
}

// loadConfig reads settings from path, or from the current directory when
// path is empty, and installs the configured logger.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadWithPath(path)
	}
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging))
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// configFlag registers the shared -config flag.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Settings file or directory (default: ./settings.*)")
}
