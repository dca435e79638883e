// Command agent is a minimal worker entry point. It speaks the fleet's
// invocation contract: it reads its profile, greets the model with the
// init message and then idles until interrupted.
//
// Exit codes: 0 on interrupt, 1 when the agent cannot start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/llm"
)

const systemPrompt = "You are %s, an autonomous agent. Keep replies short."

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	inv, err := fleet.ParseInvocation(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(
		"agent", inv.Name,
		"count_id", inv.CountID,
		"run_id", inv.RunID,
	)

	profile, err := fleet.ReadProfile(inv.ProfilePath)
	if err != nil {
		logger.Error("profile unreadable", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("agent online", "profile", profile.SourcePath, "load_memory", inv.LoadMemory, "task_id", inv.TaskID)

	if inv.InitMessage != "" {
		opts := []llm.Option{llm.WithLogger(logger)}
		if model := os.Getenv("OLLAMA_MODEL"); model != "" {
			opts = append(opts, llm.WithModel(model))
		}
		client := llm.NewLocal(opts...)

		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		reply := client.SendRequest(reqCtx,
			[]llm.Message{{Role: "user", Content: inv.InitMessage}},
			fmt.Sprintf(systemPrompt, profile.Name),
			nil,
		)
		cancel()
		fmt.Printf("%s: %s\n", inv.Name, reply)
	}

	<-ctx.Done()
	logger.Info("agent shutting down")
	return 0
}
