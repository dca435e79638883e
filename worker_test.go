package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerEnv struct {
	worker   *Worker
	spawner  *mockSpawner
	registry *MemoryRegistry
	clock    *mockClock
	events   *eventRecorder

	mu         sync.Mutex
	terminated []int
}

func newWorkerEnv(t *testing.T, opts LaunchOptions) *workerEnv {
	t.Helper()
	env := &workerEnv{
		spawner:  newMockSpawner(),
		registry: NewMemoryRegistry(),
		clock:    newMockClock(),
		events:   &eventRecorder{},
	}
	env.worker = NewWorker("andy", "./andy.json", 0, opts,
		WithSpawner(env.spawner),
		WithRegistry(env.registry),
		WithClock(env.clock.Now),
		WithObserver(env.events.record),
		WithWorkerLogger(discardLogger()),
		WithTerminator(func(code int) {
			env.mu.Lock()
			env.terminated = append(env.terminated, code)
			env.mu.Unlock()
		}),
	)
	require.NoError(t, env.registry.Register("andy", env.worker))
	t.Cleanup(env.worker.Close)
	return env
}

func (e *workerEnv) terminations() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.terminated...)
}

func (e *workerEnv) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.worker.State() == want },
		2*time.Second, 5*time.Millisecond, "want state %s, have %s", want, e.worker.State())
}

func TestWorkerStart(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{LoadMemory: false, InitMessage: "hello", TaskPath: "./task.json", TaskID: "build"})

	require.NoError(t, env.worker.Start(context.Background()))

	assert.Equal(t, StateRunning, env.worker.State())
	assert.True(t, env.worker.Running())
	assert.Equal(t, 1001, env.worker.Pid())
	assert.Equal(t, env.clock.Now(), env.worker.LastRestartAt())
	assert.True(t, env.registry.Online("andy"))

	inv := env.spawner.invocation(0)
	assert.Equal(t, Invocation{
		Name:        "andy",
		ProfilePath: "./andy.json",
		InitMessage: "hello",
		TaskPath:    "./task.json",
		TaskID:      "build",
		RunID:       env.worker.ID,
	}, inv)
	assert.Equal(t, []EventType{EventStarted}, env.events.types())

	err := env.worker.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, env.spawner.calls())
}

func TestWorkerExitClassification(t *testing.T) {
	tests := []struct {
		name          string
		ranFor        time.Duration
		status        ExitStatus
		wantState     State
		wantSpawns    int
		wantTerminate []int
		wantEvent     EventType
	}{
		{"clean exit", time.Minute, ExitStatus{Code: 0}, StateTerminated, 1, nil, EventExited},
		{"crash after cooldown", 11 * time.Second, ExitStatus{Code: 1}, StateRunning, 2, nil, EventRestarting},
		{"crash exactly at cooldown", 10 * time.Second, ExitStatus{Code: 1}, StateRunning, 2, nil, EventRestarting},
		{"crash within cooldown", 9 * time.Second, ExitStatus{Code: 1}, StateTerminated, 1, nil, EventAbandoned},
		{"fleet fatal", time.Minute, ExitStatus{Code: 2}, StateTerminated, 1, []int{2}, EventFleetFatal},
		{"fleet fatal quickly", time.Millisecond, ExitStatus{Code: 7}, StateTerminated, 1, []int{7}, EventFleetFatal},
		{"interrupted crash", time.Minute, ExitStatus{Code: 1, Signal: SignalInterrupt}, StateTerminated, 1, nil, EventExited},
		{"killed by other signal", time.Minute, ExitStatus{Code: -1, Signal: "killed"}, StateRunning, 2, nil, EventRestarting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWorkerEnv(t, LaunchOptions{})
			require.NoError(t, env.worker.Start(context.Background()))

			env.clock.Advance(tt.ranFor)
			env.spawner.handle(0).Exit(tt.status)

			require.Eventually(t, func() bool { return env.events.has(tt.wantEvent) },
				2*time.Second, 5*time.Millisecond)
			env.waitState(t, tt.wantState)

			assert.Equal(t, tt.wantSpawns, env.spawner.calls())
			assert.Equal(t, tt.wantTerminate, env.terminations())

			last := env.worker.LastExit()
			require.NotNil(t, last)
			assert.Equal(t, tt.status, *last)
		})
	}
}

func TestWorkerRestartLoadsMemory(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{InitMessage: "build a house", TaskID: "t1"})
	require.NoError(t, env.worker.Start(context.Background()))

	env.clock.Advance(30 * time.Second)
	env.spawner.handle(0).Exit(ExitStatus{Code: 1})

	require.Eventually(t, func() bool { return env.spawner.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	env.waitState(t, StateRunning)

	inv := env.spawner.invocation(1)
	assert.True(t, inv.LoadMemory)
	assert.Equal(t, RestartNotice, inv.InitMessage)
	assert.Equal(t, "t1", inv.TaskID)
	assert.Equal(t, 1, env.worker.Restarts())
	assert.Equal(t, env.clock.Now(), env.worker.LastRestartAt())
	assert.True(t, env.registry.Online("andy"))

	// the cooldown runs from the restart, not the first start
	env.clock.Advance(5 * time.Second)
	env.spawner.handle(1).Exit(ExitStatus{Code: 1})
	env.waitState(t, StateTerminated)
	assert.Equal(t, 2, env.spawner.calls())
	assert.False(t, env.registry.Online("andy"))
}

func TestWorkerStopIsNeverRestarted(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	// a worker that handles SIGINT itself and exits 1
	env.spawner.interruptStatus = ExitStatus{Code: 1}
	require.NoError(t, env.worker.Start(context.Background()))

	env.clock.Advance(time.Minute)
	require.NoError(t, env.worker.Stop(context.Background()))

	select {
	case <-env.worker.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	env.waitState(t, StateTerminated)

	assert.Equal(t, 1, env.spawner.calls())
	assert.Equal(t, []EventType{EventStarted, EventStopRequested, EventExited}, env.events.types())
	assert.False(t, env.registry.Online("andy"))
}

func TestWorkerStopWhenNotRunning(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	assert.NoError(t, env.worker.Stop(context.Background()))
	assert.Equal(t, StatePending, env.worker.State())
	assert.Empty(t, env.events.types())
}

func TestWorkerContinue(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{InitMessage: "first"})
	require.NoError(t, env.worker.Start(context.Background()))

	// no-op while running
	require.NoError(t, env.worker.Continue(context.Background()))
	assert.Equal(t, 1, env.spawner.calls())

	require.NoError(t, env.worker.Stop(context.Background()))
	<-env.worker.Exited()
	env.waitState(t, StateTerminated)

	require.NoError(t, env.worker.Continue(context.Background()))
	assert.Equal(t, StateRunning, env.worker.State())
	assert.Equal(t, 2, env.spawner.calls())
	assert.True(t, env.registry.Online("andy"))

	inv := env.spawner.invocation(1)
	assert.True(t, inv.LoadMemory)
	assert.Equal(t, RestartNotice, inv.InitMessage)
	assert.Equal(t, 0, env.worker.Restarts(), "manual continue is not a supervisor restart")
}

func TestWorkerContinueAfterAbandon(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	require.NoError(t, env.worker.Start(context.Background()))

	env.spawner.handle(0).Exit(ExitStatus{Code: 1})
	env.waitState(t, StateTerminated)
	require.True(t, env.events.has(EventAbandoned))

	require.NoError(t, env.worker.Continue(context.Background()))
	assert.True(t, env.worker.Running())
}

func TestWorkerSpawnFailure(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	env.spawner.failOn[1] = errSpawn

	err := env.worker.Start(context.Background())
	require.Error(t, err)

	var werr *WorkerError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "andy", werr.Name)
	assert.ErrorIs(t, err, errSpawn)

	assert.Equal(t, StateTerminated, env.worker.State())
	assert.False(t, env.worker.Running())
	assert.False(t, env.registry.Online("andy"))
	assert.Equal(t, []EventType{EventSpawnFailed}, env.events.types())
}

func TestWorkerRestartSpawnFailureIsNotRetried(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	env.spawner.failOn[2] = errSpawn
	require.NoError(t, env.worker.Start(context.Background()))

	env.clock.Advance(time.Minute)
	env.spawner.handle(0).Exit(ExitStatus{Code: 1})

	require.Eventually(t, func() bool { return env.events.has(EventSpawnFailed) }, 2*time.Second, 5*time.Millisecond)
	env.waitState(t, StateTerminated)
	assert.Equal(t, 2, env.spawner.calls())
	assert.False(t, env.registry.Online("andy"))
}

func TestWorkerNoSpawner(t *testing.T) {
	w := NewWorker("bob", "./bob.json", 0, LaunchOptions{}, WithSpawner(nil), WithWorkerLogger(discardLogger()))
	defer w.Close()

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, errNoSpawner)
}

func TestWorkerClosed(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})
	env.worker.Close()
	env.worker.Close()

	assert.ErrorIs(t, env.worker.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, env.worker.Stop(context.Background()), ErrClosed)
	assert.ErrorIs(t, env.worker.Continue(context.Background()), ErrClosed)
}

func TestWorkerExitedWhenIdle(t *testing.T) {
	env := newWorkerEnv(t, LaunchOptions{})

	select {
	case <-env.worker.Exited():
	default:
		t.Fatal("Exited should be closed for a worker that never started")
	}
	assert.Nil(t, env.worker.LastExit())
	assert.Zero(t, env.worker.Pid())
}

func TestWorkerOptionsAreCopied(t *testing.T) {
	opts := LaunchOptions{Count: 3, InitMessage: "go"}
	env := newWorkerEnv(t, opts)
	opts.InitMessage = "changed"
	assert.Equal(t, "go", env.worker.Options().InitMessage)
}
