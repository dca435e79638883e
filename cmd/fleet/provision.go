package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/everydev1618/agentfleet/internal/roles"
)

// provisionCmd expands role templates into agent profiles.
func provisionCmd(args []string) int {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	cfgPath := configFlag(fs)

	fs.Usage = func() {
		fmt.Println(`Usage: fleet provision [options] [role...]

Generate one agent profile per role from the role templates. Roles default to
the configured role list.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  fleet provision
  fleet provision builder farmer`)
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	names := cfg.Roles.Names
	if fs.NArg() > 0 {
		names = fs.Args()
	}

	p := roles.NewProvisioner(cfg.Roles.TemplatesDir, cfg.Roles.GeneratedDir, slog.Default())
	if err := p.Generate(context.Background(), names); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	paths, err := p.ProfilePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, path := range paths {
		fmt.Println(path)
	}
	return 0
}
