// Package fleet launches and supervises a fleet of LLM-driven agent processes.
//
// Each agent runs as its own OS process started from a profile document. The
// package provides:
//
//   - A Factory that turns one profile into N named replicas
//   - A Worker supervisor per replica that restarts crashed processes
//   - An Orchestrator that gates launch on model backend health
//   - A Registry of live agent names
//
// # Quick Start
//
// Launch two replicas of every profile and wait for a fleet-fatal exit:
//
//	spawner := &fleet.ExecSpawner{Command: []string{"node", "src/process/init_agent.js"}}
//	orch := fleet.NewOrchestrator(spawner,
//	    fleet.WithHealthCheck(llm.NewLocal()),
//	)
//
//	workers, err := orch.Launch(ctx, []string{"./andy.json"}, fleet.LaunchOptions{
//	    Count:       2,
//	    InitMessage: "Build a house.",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	code := <-orch.Terminated()
//	os.Exit(code)
//
// Replicas are named after the profile: "andy", "andy-1", "andy-2" and so on,
// with an optional prefix and suffix from LaunchOptions.
//
// # Supervision
//
// Workers follow a fixed exit-code contract:
//
//   - 0, or any exit through an interrupt: the worker stays down
//   - 1: a crash. The worker is restarted with memory loaded, unless it ran
//     for less than the restart cooldown (10s by default), in which case it
//     is abandoned
//   - above 1: the agent asks for the whole fleet to stop; the code is
//     delivered on Orchestrator.Terminated
//
// Stop and Continue are manual controls. A stopped worker is never restarted
// by the supervisor; Continue starts it again with memory loaded.
//
// # Events
//
// Every lifecycle transition is published as an Event to listeners registered
// with Orchestrator.OnEvent. The serve package records them and exposes them
// over HTTP.
package fleet
