package fleet

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Factory turns one agent profile into a set of named, started workers.
type Factory struct {
	spawner  Spawner
	registry Registry
	stagger  time.Duration
	logger   *slog.Logger

	// workerOpts are applied to every worker the factory creates
	workerOpts []WorkerOption

	sleep func(ctx context.Context, d time.Duration) error
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStagger sets the delay between replica launches of one profile.
func WithStagger(d time.Duration) FactoryOption {
	return func(f *Factory) {
		f.stagger = d
	}
}

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithWorkerOptions adds options applied to every created worker.
func WithWorkerOptions(opts ...WorkerOption) FactoryOption {
	return func(f *Factory) {
		f.workerOpts = append(f.workerOpts, opts...)
	}
}

// NewFactory creates a factory that spawns through s and registers names in r.
func NewFactory(s Spawner, r Registry, opts ...FactoryOption) *Factory {
	f := &Factory{
		spawner:  s,
		registry: r,
		stagger:  DefaultLaunchStagger,
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateBot reads the profile at profilePath and launches opts.Count replicas
// of it, one stagger interval apart.
//
// A profile that cannot be read fails the whole call with a *ProfileReadError.
// A replica that cannot be registered or spawned is left out; the other
// replicas still launch and the failures are returned joined.
func (f *Factory) CreateBot(ctx context.Context, profilePath string, opts LaunchOptions) ([]*Worker, error) {
	profile, err := ReadProfile(profilePath)
	if err != nil {
		return nil, err
	}

	count := opts.count()
	workers := make([]*Worker, 0, count)
	var errs []error

	for i := 0; i < count; i++ {
		if i > 0 {
			if err := f.sleep(ctx, f.stagger); err != nil {
				errs = append(errs, err)
				return workers, errors.Join(errs...)
			}
		}

		name := opts.ReplicaName(profile.Name, i)
		wopts := append([]WorkerOption{
			WithSpawner(f.spawner),
			WithRegistry(f.registry),
			WithWorkerLogger(f.logger),
		}, f.workerOpts...)
		w := NewWorker(name, profilePath, i, opts, wopts...)

		if err := f.registry.Register(name, w); err != nil {
			w.Close()
			f.logger.Error("agent name unavailable", "name", name, "error", err)
			errs = append(errs, &WorkerError{Name: name, Profile: profilePath, Err: err})
			continue
		}

		if err := w.Start(ctx); err != nil {
			w.Close()
			if rel, ok := f.registry.(interface{ Release(string) }); ok {
				rel.Release(name)
			}
			errs = append(errs, err)
			continue
		}
		workers = append(workers, w)
	}

	return workers, errors.Join(errs...)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
