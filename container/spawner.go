package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	fleet "github.com/everydev1618/agentfleet"
)

// ErrDockerUnavailable is returned when no Docker daemon answers.
var ErrDockerUnavailable = errors.New("could not connect to Docker daemon")

// Spawner starts each worker in its own container.
type Spawner struct {
	client  *client.Client
	command []string
	image   string
	hostDir string
	env     []string
	network string
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger

	seq atomic.Int64

	pullMu sync.Mutex
	pulled bool
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithImage sets the worker image.
func WithImage(img string) SpawnerOption {
	return func(s *Spawner) {
		s.image = img
	}
}

// WithWorkDir bind-mounts a host directory as the container working directory.
func WithWorkDir(dir string) SpawnerOption {
	return func(s *Spawner) {
		s.hostDir = dir
	}
}

// WithEnv appends environment variables for every worker.
func WithEnv(env ...string) SpawnerOption {
	return func(s *Spawner) {
		s.env = append(s.env, env...)
	}
}

// WithNetworkMode sets the container network mode (default "host", so
// workers reach a model server on localhost).
func WithNetworkMode(mode string) SpawnerOption {
	return func(s *Spawner) {
		s.network = mode
	}
}

// WithOutput sets where container output is copied to.
func WithOutput(stdout, stderr io.Writer) SpawnerOption {
	return func(s *Spawner) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SpawnerOption {
	return func(s *Spawner) {
		s.logger = l
	}
}

// NewSpawner connects to Docker and returns a spawner that runs command in
// containers. It fails with ErrDockerUnavailable when no daemon answers.
func NewSpawner(command []string, opts ...SpawnerOption) (*Spawner, error) {
	if len(command) == 0 {
		return nil, errors.New("no worker command configured")
	}

	s := &Spawner{
		command: command,
		image:   DefaultImage,
		network: "host",
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hostDir != "" {
		abs, err := filepath.Abs(s.hostDir)
		if err != nil {
			return nil, fmt.Errorf("resolve worker dir: %w", err)
		}
		s.hostDir = abs
	}

	cli, err := createDockerClient()
	if err != nil {
		return nil, err
	}
	s.client = cli
	return s, nil
}

// Spawn creates and starts a container for one worker invocation.
func (s *Spawner) Spawn(ctx context.Context, inv fleet.Invocation) (fleet.Handle, error) {
	if err := s.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", s.image, err)
	}

	cfg, hostCfg := s.containerConfig(inv)
	name := containerName(inv.Name, s.seq.Add(1))

	resp, err := s.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		removeContainer(context.Background(), s.client, resp.ID)
		return nil, fmt.Errorf("start container: %w", err)
	}

	h := &containerHandle{client: s.client, id: resp.ID, logger: s.logger.With("container", shortID(resp.ID), "agent", inv.Name)}
	if inspect, err := s.client.ContainerInspect(ctx, resp.ID); err == nil && inspect.State != nil {
		h.pid = inspect.State.Pid
	}
	h.logsDone = s.followLogs(resp.ID)

	h.logger.Info("agent container started", "name", name, "image", s.image)
	return h, nil
}

// containerConfig builds the container definition for one invocation.
func (s *Spawner) containerConfig(inv fleet.Invocation) (*container.Config, *container.HostConfig) {
	cmd := append(append([]string{}, s.command...), inv.Args()...)
	env := append(append([]string{}, s.env...), fleet.EnvRunID+"="+inv.RunID)

	cfg := &container.Config{
		Image:      s.image,
		Cmd:        cmd,
		Env:        env,
		WorkingDir: DefaultWorkDir,
		Labels: map[string]string{
			LabelAgent:     inv.Name,
			LabelRunID:     inv.RunID,
			LabelManagedBy: managedBy,
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(s.network),
	}
	if s.hostDir != "" {
		hostCfg.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: s.hostDir,
				Target: DefaultWorkDir,
			},
		}
	}
	return cfg, hostCfg
}

// followLogs copies the container's output until it exits.
func (s *Spawner) followLogs(id string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader, err := s.client.ContainerLogs(context.Background(), id, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			s.logger.Warn("container logs unavailable", "container", shortID(id), "error", err)
			return
		}
		defer reader.Close()
		if _, err := stdcopy.StdCopy(s.stdout, s.stderr, reader); err != nil && err != io.EOF {
			s.logger.Debug("container log stream ended", "container", shortID(id), "error", err)
		}
	}()
	return done
}

// Cleanup removes containers left behind by earlier runs.
func (s *Spawner) Cleanup(ctx context.Context) error {
	ids, err := listAgentContainers(ctx, s.client)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := removeContainer(ctx, s.client, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		s.logger.Info("removed stale agent containers", "count", len(ids)-len(errs))
	}
	return errors.Join(errs...)
}

// Close closes the Docker client.
func (s *Spawner) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ensureImage makes the worker image available. A failed pull is retried
// on the next spawn.
func (s *Spawner) ensureImage(ctx context.Context) error {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()
	if s.pulled {
		return nil
	}
	if err := ensureImage(ctx, s.client, s.image); err != nil {
		return err
	}
	s.pulled = true
	return nil
}

type containerHandle struct {
	client   *client.Client
	id       string
	pid      int
	logger   *slog.Logger
	logsDone <-chan struct{}

	// interrupted is set once SIGINT was sent to the container
	interrupted atomic.Bool
}

func (h *containerHandle) Pid() int {
	return h.pid
}

func (h *containerHandle) Interrupt() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.interrupted.Store(true)
	return h.client.ContainerKill(ctx, h.id, "SIGINT")
}

func (h *containerHandle) Wait() fleet.ExitStatus {
	statusCh, errCh := h.client.ContainerWait(context.Background(), h.id, container.WaitConditionNotRunning)

	var status fleet.ExitStatus
	select {
	case resp := <-statusCh:
		status = exitStatusOf(resp.StatusCode, h.interrupted.Load() || h.oomKilled())
	case err := <-errCh:
		h.logger.Error("container wait failed", "error", err)
		status = fleet.ExitStatus{Code: -1}
	}

	<-h.logsDone
	if err := removeContainer(context.Background(), h.client, h.id); err != nil {
		h.logger.Warn("container not removed", "error", err)
	}
	return status
}

func (h *containerHandle) oomKilled() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := h.client.ContainerInspect(ctx, h.id)
	if err != nil || info.State == nil {
		return false
	}
	return info.State.OOMKilled
}

// exitStatusOf maps a container exit code to a process exit status. Docker
// reports a main process killed by signal n as 128+n, but a worker may also
// exit with such a code itself, so the code is only read as a signal when the
// container was signalled.
func exitStatusOf(code int64, signalled bool) fleet.ExitStatus {
	if signalled && code > 128 && code < 128+32 {
		return fleet.ExitStatus{Code: -1, Signal: syscall.Signal(code - 128).String()}
	}
	return fleet.ExitStatus{Code: int(code)}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// containerName derives a Docker-safe container name for a worker spawn.
func containerName(agent string, seq int64) string {
	name := unsafeNameChars.ReplaceAllString(agent, "_")
	return fmt.Sprintf("agentfleet-%s-%d", name, seq)
}
