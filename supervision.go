package fleet

import "time"

// ExitAction is what the supervisor does after a worker process ends.
type ExitAction int

const (
	// ActionNone leaves the worker stopped (clean exit or interrupt)
	ActionNone ExitAction = iota

	// ActionRestart starts the worker again with memory loaded
	ActionRestart

	// ActionAbandon gives up on a worker that crashed inside the cooldown
	ActionAbandon

	// ActionTerminateFleet ends the whole orchestrator with the worker's code
	ActionTerminateFleet
)

// String returns the action name.
func (a ExitAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRestart:
		return "restart"
	case ActionAbandon:
		return "abandon"
	case ActionTerminateFleet:
		return "terminate_fleet"
	default:
		return "unknown"
	}
}

// RestartPolicy classifies worker exits.
//
// Exit codes follow the worker contract: 0 is a clean exit, 1 a crash and
// anything above 1 asks for the entire fleet to stop with that code. A worker
// that ends through an interrupt is never restarted.
type RestartPolicy struct {
	// Cooldown is the minimum run time before a crash earns a restart
	Cooldown time.Duration
}

// DefaultRestartPolicy returns the policy with the standard 10s cooldown.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Cooldown: DefaultRestartCooldown}
}

// Classify decides what to do with an exit after the process ran for ranFor
// since its last (re)start.
func (p RestartPolicy) Classify(status ExitStatus, ranFor time.Duration) ExitAction {
	if status.Code > 1 {
		return ActionTerminateFleet
	}
	if status.Code != 0 && !status.Interrupted() {
		if ranFor < p.Cooldown {
			return ActionAbandon
		}
		return ActionRestart
	}
	return ActionNone
}
