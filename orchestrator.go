package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/everydev1618/agentfleet/llm"
)

// Orchestrator launches the fleet and owns its termination.
//
// It never exits the process. A worker that ends with a fleet-fatal code is
// reported once on Terminated and the caller decides what to do with it.
type Orchestrator struct {
	spawner  Spawner
	registry Directory
	health   llm.HealthChecker

	requireModel bool
	policy       RestartPolicy
	stagger      time.Duration
	profileGap   time.Duration
	logger       *slog.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	workers []*Worker

	listenerMu sync.RWMutex
	listeners  []func(Event)

	terminated chan int
	termOnce   sync.Once
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDirectory sets the registry workers log in and out of.
func WithDirectory(d Directory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.registry = d
	}
}

// WithHealthCheck gates Launch on the model backend being reachable.
func WithHealthCheck(h llm.HealthChecker) OrchestratorOption {
	return func(o *Orchestrator) {
		o.health = h
	}
}

// WithRequireModel makes a missing configured model fail the health gate.
func WithRequireModel(required bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.requireModel = required
	}
}

// WithCooldown sets the minimum run time before a crash earns a restart.
func WithCooldown(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.policy.Cooldown = d
	}
}

// WithReplicaStagger sets the delay between replicas of one profile.
func WithReplicaStagger(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stagger = d
	}
}

// WithProfileGap sets the delay between launching consecutive profiles.
func WithProfileGap(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.profileGap = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithOrchestratorClock overrides time.Now for every worker.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator that spawns workers through s.
func NewOrchestrator(s Spawner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		spawner:    s,
		registry:   NewMemoryRegistry(),
		policy:     DefaultRestartPolicy(),
		stagger:    DefaultLaunchStagger,
		profileGap: DefaultLaunchStagger,
		logger:     slog.Default(),
		now:        time.Now,
		sleep:      sleepContext,
		terminated: make(chan int, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HealthError is returned by Launch when the model backend fails the gate.
type HealthError struct {
	Status llm.HealthStatus
}

func (e *HealthError) Error() string {
	if e.Status.Error == "" {
		return ErrFleetUnhealthy.Error()
	}
	return fmt.Sprintf("%s: %s", ErrFleetUnhealthy, e.Status.Error)
}

func (e *HealthError) Unwrap() error {
	return ErrFleetUnhealthy
}

// CheckHealth runs the model backend gate. It returns nil when no health
// checker is configured.
func (o *Orchestrator) CheckHealth(ctx context.Context) error {
	if o.health == nil {
		return nil
	}
	status := o.health.CheckHealth(ctx)
	if !status.Available {
		o.logger.Error("model backend unreachable", "error", status.Error)
		return &HealthError{Status: status}
	}
	if status.Error != "" {
		if o.requireModel {
			o.logger.Error("configured model not available", "error", status.Error, "models", status.Models)
			return &HealthError{Status: status}
		}
		o.logger.Warn("configured model not available", "error", status.Error)
	}
	o.logger.Info("model backend healthy", "models", len(status.Models))
	return nil
}

// Launch checks backend health and then creates the workers for each profile
// in order, waiting between profiles. Nothing is spawned when the health gate
// fails.
//
// A profile that cannot be launched does not stop the others. The returned
// workers are everything that started; the error joins every failure.
func (o *Orchestrator) Launch(ctx context.Context, profiles []string, opts LaunchOptions) ([]*Worker, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}
	if err := o.CheckHealth(ctx); err != nil {
		return nil, err
	}

	factory := NewFactory(o.spawner, o.registry,
		WithStagger(o.stagger),
		WithFactoryLogger(o.logger),
		WithWorkerOptions(
			WithRestartPolicy(o.policy),
			WithTerminator(o.terminate),
			WithObserver(o.emit),
			WithClock(o.now),
		),
	)
	factory.sleep = o.sleep

	var launched []*Worker
	var errs []error
	for i, path := range profiles {
		if i > 0 {
			if err := o.sleep(ctx, o.profileGap); err != nil {
				errs = append(errs, err)
				break
			}
		}

		workers, err := factory.CreateBot(ctx, path, opts)
		if err != nil {
			o.logger.Error("profile launch failed", "profile", path, "error", err)
			errs = append(errs, err)
		}
		launched = append(launched, workers...)

		o.mu.Lock()
		o.workers = append(o.workers, workers...)
		o.mu.Unlock()
	}

	return launched, errors.Join(errs...)
}

// Terminated delivers the exit code of the first worker that asked for the
// whole fleet to stop.
func (o *Orchestrator) Terminated() <-chan int {
	return o.terminated
}

func (o *Orchestrator) terminate(code int) {
	o.termOnce.Do(func() {
		o.logger.Warn("fleet termination requested", "code", code)
		o.terminated <- code
	})
}

// OnEvent registers a listener for worker lifecycle events. Listeners run on
// the emitting worker's event loop and must return quickly.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) emit(ev Event) {
	o.listenerMu.RLock()
	defer o.listenerMu.RUnlock()
	for _, fn := range o.listeners {
		fn(ev)
	}
}

// Workers returns every worker launched so far.
func (o *Orchestrator) Workers() []*Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Worker, len(o.workers))
	copy(out, o.workers)
	return out
}

// Lookup finds a worker by agent name.
func (o *Orchestrator) Lookup(name string) (*Worker, error) {
	w, ok := o.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	return w, nil
}

// Directory returns the registry the fleet's workers are registered in.
func (o *Orchestrator) Directory() Directory {
	return o.registry
}

// Shutdown interrupts every running worker and waits for them to exit or for
// ctx to end. Worker event loops are closed afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	workers := o.Workers()

	for _, w := range workers {
		if err := w.Stop(ctx); err != nil {
			o.logger.Warn("stop failed", "agent", w.Name, "error", err)
		}
	}

	var err error
	for _, w := range workers {
		select {
		case <-w.Exited():
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}

	for _, w := range workers {
		w.Close()
	}
	return err
}
