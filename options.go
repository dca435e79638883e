package fleet

import (
	"fmt"
	"time"
)

// Default supervision and launch timings.
const (
	// DefaultRestartCooldown is how long a worker must have run before a
	// crash is answered with a restart.
	DefaultRestartCooldown = 10 * time.Second

	// DefaultLaunchStagger is the pause between two replicas of one launch.
	DefaultLaunchStagger = time.Second

	// RestartNotice is the init message handed to a restarted worker.
	RestartNotice = "Agent process restarted."
)

// LaunchOptions configures one CreateBot call. The options are copied into
// every worker created by the call and never mutated afterwards.
type LaunchOptions struct {
	// Count is the number of replicas to launch (default 1)
	Count int

	// LoadMemory asks the worker to restore memory from a previous session
	LoadMemory bool

	// InitMessage is sent to the agent on spawn (empty for none)
	InitMessage string

	// TaskPath is the task file the agent should execute (optional)
	TaskPath string

	// TaskID selects a task inside TaskPath (optional)
	TaskID string

	// NamePrefix and NameSuffix decorate the profile name
	NamePrefix string
	NameSuffix string
}

func (o LaunchOptions) count() int {
	if o.Count <= 0 {
		return 1
	}
	return o.Count
}

// ReplicaName derives the registered name of replica i of a profile.
// Replica 0 keeps the decorated base name, later replicas get a "-i" suffix.
func (o LaunchOptions) ReplicaName(base string, i int) string {
	name := o.NamePrefix + base + o.NameSuffix
	if i > 0 {
		name = fmt.Sprintf("%s-%d", name, i)
	}
	return name
}
