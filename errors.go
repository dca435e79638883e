package fleet

import (
	"errors"
	"fmt"
)

// Standard errors returned by the fleet package.
var (
	// ErrNameTaken is returned when a worker name is already registered.
	ErrNameTaken = errors.New("agent name already registered")

	// ErrWorkerNotFound is returned when no worker is registered under a name.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrWorkerNotRunning is returned when an operation needs a live process.
	ErrWorkerNotRunning = errors.New("worker is not running")

	// ErrAlreadyRunning is returned when starting a worker that already owns a process.
	ErrAlreadyRunning = errors.New("worker is already running")

	// ErrFleetUnhealthy is returned when the model backend fails its health gate.
	ErrFleetUnhealthy = errors.New("model backend unavailable")

	// ErrClosed is returned when a worker or orchestrator has been shut down.
	ErrClosed = errors.New("closed")

	// ErrNoProfiles is returned when a launch is requested with an empty profile list.
	ErrNoProfiles = errors.New("no agent profiles to launch")
)

// WorkerError wraps an error with the identity of the worker that produced it.
type WorkerError struct {
	Name    string
	Profile string
	Err     error
}

func (e *WorkerError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("worker %s (%s): %v", e.Name, e.Profile, e.Err)
	}
	return fmt.Sprintf("worker %s: %v", e.Name, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// ProfileReadError reports an agent profile that is missing or cannot be parsed.
// It is fatal for the one profile only.
type ProfileReadError struct {
	Path string
	Err  error
}

func (e *ProfileReadError) Error() string {
	return fmt.Sprintf("read profile %s: %v", e.Path, e.Err)
}

func (e *ProfileReadError) Unwrap() error {
	return e.Err
}
