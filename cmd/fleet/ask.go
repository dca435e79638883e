package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/everydev1618/agentfleet/llm"
)

// askCmd sends one prompt through the configured model client.
func askCmd(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cfgPath := configFlag(fs)
	system := fs.String("system", "", "System message")
	image := fs.String("image", "", "JPEG image to attach (cloud backend only)")
	embed := fs.Bool("embed", false, "Print the embedding of the prompt instead")
	timeout := fs.Duration("timeout", 5*time.Minute, "Maximum time to wait for a response")

	fs.Usage = func() {
		fmt.Println(`Usage: fleet ask [options] <prompt>

Send a single prompt to the configured model backend.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  fleet ask "Say hello"
  fleet ask --system "You are a miner." "What do you need?"
  fleet ask --embed "stone pickaxe"`)
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no prompt given")
		fs.Usage()
		return 1
	}
	prompt := strings.Join(fs.Args(), " ")

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	be := newBackend(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *embed:
		vec, err := be.client.Embed(ctx, prompt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(formatVector(vec))

	case *image != "":
		if be.vision == nil {
			fmt.Fprintf(os.Stderr, "Error: backend %s does not accept images\n", cfg.Model.Backend)
			return 1
		}
		data, err := os.ReadFile(*image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(be.vision.SendVisionRequest(ctx, nil, prompt, data))

	default:
		turns := []llm.Message{{Role: "user", Content: prompt}}
		fmt.Println(be.client.SendRequest(ctx, turns, *system, nil))
	}
	return 0
}

func formatVector(vec []float64) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
