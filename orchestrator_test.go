package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/agentfleet/llm"
)

type mockHealth struct {
	status llm.HealthStatus
	calls  int
}

func (m *mockHealth) CheckHealth(ctx context.Context) llm.HealthStatus {
	m.calls++
	return m.status
}

func newTestOrchestrator(t *testing.T, s Spawner, opts ...OrchestratorOption) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	sleeper := &sleepRecorder{}
	opts = append([]OrchestratorOption{WithLogger(discardLogger())}, opts...)
	o := NewOrchestrator(s, opts...)
	o.sleep = sleeper.sleep
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return o, sleeper
}

func TestNewOrchestratorDefaults(t *testing.T) {
	o := NewOrchestrator(newMockSpawner())
	assert.Equal(t, DefaultRestartCooldown, o.policy.Cooldown)
	assert.Equal(t, DefaultLaunchStagger, o.stagger)
	assert.Equal(t, DefaultLaunchStagger, o.profileGap)
	assert.False(t, o.requireModel)
	assert.NotNil(t, o.Directory())
}

func TestLaunchNoProfiles(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMockSpawner())
	_, err := o.Launch(context.Background(), nil, LaunchOptions{})
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestLaunchHealthGate(t *testing.T) {
	tests := []struct {
		name         string
		status       llm.HealthStatus
		requireModel bool
		wantErr      bool
	}{
		{"healthy", llm.HealthStatus{Available: true, Models: []string{"llama3.1"}}, true, false},
		{"unreachable", llm.HealthStatus{Error: "connection refused"}, false, true},
		{"model missing required", llm.HealthStatus{Available: true, Error: "model 'x' not found"}, true, true},
		{"model missing tolerated", llm.HealthStatus{Available: true, Error: "model 'x' not found"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spawner := newMockSpawner()
			health := &mockHealth{status: tt.status}
			o, _ := newTestOrchestrator(t, spawner, WithHealthCheck(health), WithRequireModel(tt.requireModel))

			workers, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{Count: 2})
			assert.Equal(t, 1, health.calls)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, workers, 2)
				return
			}

			assert.ErrorIs(t, err, ErrFleetUnhealthy)
			var herr *HealthError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tt.status, herr.Status)
			assert.Contains(t, err.Error(), tt.status.Error)
			assert.Empty(t, workers)
			assert.Zero(t, spawner.calls(), "nothing spawns when the gate fails")
		})
	}
}

func TestLaunchMultipleProfiles(t *testing.T) {
	dir := t.TempDir()
	profiles := []string{
		writeProfile(t, dir, "andy"),
		filepath.Join(dir, "missing.json"),
		writeProfile(t, dir, "jill"),
	}

	spawner := newMockSpawner()
	o, sleeper := newTestOrchestrator(t, spawner,
		WithReplicaStagger(2*time.Second),
		WithProfileGap(3*time.Second),
	)

	workers, err := o.Launch(context.Background(), profiles, LaunchOptions{Count: 2})

	var perr *ProfileReadError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, profiles[1], perr.Path)

	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = w.Name
	}
	assert.Equal(t, []string{"andy", "andy-1", "jill", "jill-1"}, names)
	assert.Len(t, o.Workers(), 4)
	assert.Equal(t, []time.Duration{
		2 * time.Second, // andy-1
		3 * time.Second, // before missing
		3 * time.Second, // before jill
		2 * time.Second, // jill-1
	}, sleeper.durations())

	w, err := o.Lookup("jill-1")
	require.NoError(t, err)
	assert.Equal(t, 1, w.CountID)

	_, err = o.Lookup("bob")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestOrchestratorTerminatedOnce(t *testing.T) {
	spawner := newMockSpawner()
	o, _ := newTestOrchestrator(t, spawner)

	_, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{Count: 2})
	require.NoError(t, err)

	spawner.handle(0).Exit(ExitStatus{Code: 3})
	spawner.handle(1).Exit(ExitStatus{Code: 4})

	select {
	case code := <-o.Terminated():
		assert.Contains(t, []int{3, 4}, code)
	case <-time.After(2 * time.Second):
		t.Fatal("no termination delivered")
	}

	select {
	case code := <-o.Terminated():
		t.Fatalf("second termination delivered: %d", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrchestratorRestartUsesCooldown(t *testing.T) {
	spawner := newMockSpawner()
	clock := newMockClock()
	o, _ := newTestOrchestrator(t, spawner, WithCooldown(time.Minute), WithOrchestratorClock(clock.Now))

	workers, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{})
	require.NoError(t, err)
	require.Len(t, workers, 1)

	// 30s is past the default cooldown but inside the configured one
	clock.Advance(30 * time.Second)
	spawner.handle(0).Exit(ExitStatus{Code: 1})

	require.Eventually(t, func() bool { return workers[0].State() == StateTerminated }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, spawner.calls())
}

func TestOrchestratorOnEvent(t *testing.T) {
	spawner := newMockSpawner()
	o, _ := newTestOrchestrator(t, spawner)

	first, second := &eventRecorder{}, &eventRecorder{}
	o.OnEvent(first.record)
	o.OnEvent(second.record)

	_, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{Count: 2})
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventStarted, EventStarted}, first.types())
	assert.Equal(t, first.types(), second.types())

	first.mu.Lock()
	ev := first.events[1]
	first.mu.Unlock()
	assert.Equal(t, "andy-1", ev.AgentName)
	assert.Equal(t, 1, ev.CountID)
	assert.Equal(t, 1002, ev.Pid)
	assert.NotEmpty(t, ev.WorkerID)
}

func TestOrchestratorShutdown(t *testing.T) {
	spawner := newMockSpawner()
	o, _ := newTestOrchestrator(t, spawner)

	workers, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{Count: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.Equal(t, 3, spawner.calls(), "shutdown must not trigger restarts")
	for _, w := range workers {
		assert.False(t, w.Running())
		assert.ErrorIs(t, w.Start(context.Background()), ErrClosed)
	}
}

func TestOrchestratorShutdownTimeout(t *testing.T) {
	spawner := newMockSpawner()
	// a process that ignores interrupts
	spawner.interruptStatus = ExitStatus{}
	o, _ := newTestOrchestrator(t, spawner)

	_, err := o.Launch(context.Background(), []string{writeProfile(t, t.TempDir(), "andy")}, LaunchOptions{})
	require.NoError(t, err)

	// consume the exit the interrupt would produce so the process stays up
	h := spawner.handle(0)
	h.once.Do(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)
}
