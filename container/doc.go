// Package container runs fleet workers inside Docker containers.
//
// Spawner implements fleet.Spawner: every spawn creates one container from a
// worker image, bind-mounts the worker directory and runs the worker command
// with the usual invocation arguments. Interrupt delivers SIGINT to the
// container's main process and Wait reports the container's exit the same
// way an OS child process would, so the fleet supervises both alike.
//
// # Example
//
//	spawner, err := container.NewSpawner(
//	    []string{"node", "src/process/init_agent.js"},
//	    container.WithImage("node:20-slim"),
//	    container.WithWorkDir("./mindcraft"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer spawner.Close()
//
//	orch := fleet.NewOrchestrator(spawner)
//
// Containers are labelled with the agent name and run ID and are removed
// once they exit. Cleanup removes any left behind by a previous run.
package container
