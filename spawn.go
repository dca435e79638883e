package fleet

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// SignalInterrupt is the name Go gives SIGINT. A worker that exits through
// it is never restarted.
const SignalInterrupt = "interrupt"

// EnvRunID carries the worker run ID into the child environment.
const EnvRunID = "FLEET_AGENT_RUN_ID"

// ExitStatus is how a worker process ended.
type ExitStatus struct {
	// Code is the process exit code, -1 when the process died from a signal
	Code int `json:"code"`

	// Signal names the terminating signal, empty for a normal exit
	Signal string `json:"signal,omitempty"`
}

// Interrupted reports whether the process ended through an interrupt.
func (s ExitStatus) Interrupted() bool {
	return s.Signal == SignalInterrupt
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("code %d, signal %s", s.Code, s.Signal)
	}
	return fmt.Sprintf("code %d", s.Code)
}

// Invocation is everything the worker entry point receives on its command line.
type Invocation struct {
	Name        string
	ProfilePath string
	CountID     int
	LoadMemory  bool
	InitMessage string
	TaskPath    string
	TaskID      string

	// RunID is passed through the environment, not the argument list
	RunID string
}

// Args encodes the invocation as worker arguments:
//
//	<name> -p <profile> -c <countId> [-l true] [-m <msg>] [-t <taskPath>] [-i <taskId>]
func (inv Invocation) Args() []string {
	args := []string{inv.Name, "-p", inv.ProfilePath, "-c", strconv.Itoa(inv.CountID)}
	if inv.LoadMemory {
		args = append(args, "-l", "true")
	}
	if inv.InitMessage != "" {
		args = append(args, "-m", inv.InitMessage)
	}
	if inv.TaskPath != "" {
		args = append(args, "-t", inv.TaskPath)
	}
	if inv.TaskID != "" {
		args = append(args, "-i", inv.TaskID)
	}
	return args
}

// ParseInvocation decodes the arguments produced by Invocation.Args.
// Worker entry points written in Go use it to read their launch parameters.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
		return Invocation{}, errors.New("missing agent name")
	}

	inv := Invocation{Name: args[0], RunID: os.Getenv(EnvRunID)}

	fs := flag.NewFlagSet(inv.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&inv.ProfilePath, "p", "", "profile path")
	fs.IntVar(&inv.CountID, "c", 0, "replica index")
	loadMemory := fs.String("l", "", "load memory")
	fs.StringVar(&inv.InitMessage, "m", "", "initial message")
	fs.StringVar(&inv.TaskPath, "t", "", "task path")
	fs.StringVar(&inv.TaskID, "i", "", "task id")

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, err
	}
	if inv.ProfilePath == "" {
		return Invocation{}, errors.New("missing -p profile path")
	}
	if *loadMemory != "" {
		v, err := strconv.ParseBool(*loadMemory)
		if err != nil {
			return Invocation{}, fmt.Errorf("invalid -l value %q: %w", *loadMemory, err)
		}
		inv.LoadMemory = v
	}

	return inv, nil
}

// Handle is a live worker process. It is owned by exactly one Worker.
type Handle interface {
	// Pid returns the OS process ID
	Pid() int

	// Interrupt asks the process to shut down gracefully
	Interrupt() error

	// Wait blocks until the process exits. It is called exactly once.
	Wait() ExitStatus
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, inv Invocation) (Handle, error)
}

// ExecSpawner runs the worker entry point as an OS child process.
type ExecSpawner struct {
	// Command is the entry point, e.g. ["node", "src/process/init_agent.js"]
	Command []string

	// Dir is the working directory (empty for the current one)
	Dir string

	// Env is appended to the inherited environment
	Env []string

	// Stdout and Stderr default to the orchestrator's own streams
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn starts the process and returns once it is running. The context only
// bounds the start itself: the child is never killed through it.
func (s *ExecSpawner) Spawn(ctx context.Context, inv Invocation) (Handle, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("no worker command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string{}, s.Command[1:]...), inv.Args()...)
	cmd := exec.Command(s.Command[0], args...)
	cmd.Dir = s.Dir
	cmd.Env = append(append(os.Environ(), s.Env...), EnvRunID+"="+inv.RunID)

	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Command[0], err)
	}
	return &execHandle{cmd: cmd}, nil
}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Interrupt() error {
	return h.cmd.Process.Signal(os.Interrupt)
}

func (h *execHandle) Wait() ExitStatus {
	_ = h.cmd.Wait()
	return exitStatusOf(h.cmd.ProcessState)
}

func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	status := ExitStatus{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	return status
}
