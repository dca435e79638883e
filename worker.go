package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a worker.
type State string

const (
	StatePending    State = "pending"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateRestarting State = "restarting"
	StateTerminated State = "terminated"
)

// Worker supervises one agent process: it spawns it, classifies its exits and
// restarts it when the restart policy allows.
//
// Every state transition runs on the worker's own event loop. Start, Stop and
// Continue are requests to that loop, and process exits are delivered to it as
// events, so a manual call can never race an exit-triggered restart.
type Worker struct {
	// ID is unique per worker for correlation in logs and events
	ID string

	// Name is the registered agent name
	Name string

	// ProfilePath is the agent profile the worker is launched with
	ProfilePath string

	// CountID is the replica index among workers of the same profile
	CountID int

	options LaunchOptions

	spawner   Spawner
	registry  Registry
	policy    RestartPolicy
	terminate func(code int)
	observe   func(Event)
	logger    *slog.Logger
	now       func() time.Time

	requests chan workerRequest
	exits    chan exitEvent
	closed   chan struct{}
	closeMu  sync.Once

	// guarded by mu; written only from the event loop
	mu            sync.RWMutex
	state         State
	running       bool
	lastRestartAt time.Time
	handle        Handle
	generation    int
	exitCh        chan struct{}
	stopRequested bool
	restarts      int
	lastExit      *ExitStatus
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSpawner sets how worker processes are started.
func WithSpawner(s Spawner) WorkerOption {
	return func(w *Worker) {
		w.spawner = s
	}
}

// WithRegistry sets the registry the worker logs in and out of.
func WithRegistry(r Registry) WorkerOption {
	return func(w *Worker) {
		w.registry = r
	}
}

// WithRestartPolicy sets the exit classification policy.
func WithRestartPolicy(p RestartPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithTerminator sets the callback that receives fleet-fatal exit codes.
func WithTerminator(fn func(code int)) WorkerOption {
	return func(w *Worker) {
		w.terminate = fn
	}
}

// WithObserver sets the callback that receives lifecycle events.
// It is invoked from the worker's event loop and must not block.
func WithObserver(fn func(Event)) WorkerOption {
	return func(w *Worker) {
		w.observe = fn
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

type requestKind int

const (
	requestStart requestKind = iota
	requestStop
	requestContinue
)

type workerRequest struct {
	kind  requestKind
	reply chan error
}

var errNoSpawner = errors.New("no spawner configured")

type exitEvent struct {
	generation int
	status     ExitStatus
}

// NewWorker creates a worker for one replica of a profile. The worker does
// not spawn anything until Start is called.
func NewWorker(name, profilePath string, countID int, opts LaunchOptions, wopts ...WorkerOption) *Worker {
	w := &Worker{
		ID:          uuid.New().String(),
		Name:        name,
		ProfilePath: profilePath,
		CountID:     countID,
		options:     opts,
		registry:    NewMemoryRegistry(),
		policy:      DefaultRestartPolicy(),
		terminate:   func(int) {},
		observe:     func(Event) {},
		logger:      slog.Default(),
		now:         time.Now,
		requests:    make(chan workerRequest),
		exits:       make(chan exitEvent),
		closed:      make(chan struct{}),
		state:       StatePending,
	}
	for _, opt := range wopts {
		opt(w)
	}
	w.logger = w.logger.With("agent", name, "worker_id", w.ID)

	go w.loop()
	return w
}

// Start spawns the worker process with the launch options it was created with.
// It returns once the process is running or the spawn has failed.
func (w *Worker) Start(ctx context.Context) error {
	return w.request(ctx, requestStart)
}

// Stop interrupts the running process. It is a no-op when nothing runs.
// The exit that follows is never answered with a restart.
func (w *Worker) Stop(ctx context.Context) error {
	return w.request(ctx, requestStop)
}

// Continue restarts a worker that is not running, with memory loaded and a
// restart notice as its init message. It is a no-op when the worker runs.
func (w *Worker) Continue(ctx context.Context) error {
	return w.request(ctx, requestContinue)
}

// Close stops the event loop. It does not touch a running process; call Stop
// first for that. Exits that arrive after Close are ignored.
func (w *Worker) Close() {
	w.closeMu.Do(func() { close(w.closed) })
}

func (w *Worker) request(ctx context.Context, kind requestKind) error {
	select {
	case <-w.closed:
		return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: ErrClosed}
	default:
	}

	req := workerRequest{kind: kind, reply: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.closed:
		return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: ErrClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Running reports whether the worker currently owns a live process.
func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// LastRestartAt returns when the current or last process was started.
func (w *Worker) LastRestartAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRestartAt
}

// Restarts returns how many times the supervisor restarted the worker.
func (w *Worker) Restarts() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.restarts
}

// LastExit returns the most recent exit status, or nil if none yet.
func (w *Worker) LastExit() *ExitStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastExit == nil {
		return nil
	}
	st := *w.lastExit
	return &st
}

// Pid returns the OS pid of the running process, or 0.
func (w *Worker) Pid() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.handle == nil {
		return 0
	}
	return w.handle.Pid()
}

// Exited returns a channel closed when the current process exits. The
// channel is already closed when no process is running.
func (w *Worker) Exited() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.exitCh == nil || !w.running {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.exitCh
}

// Options returns the launch options the worker was created with.
func (w *Worker) Options() LaunchOptions {
	return w.options
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.reply <- w.handleRequest(req.kind)
		case ev := <-w.exits:
			w.handleExit(ev)
		case <-w.closed:
			return
		}
	}
}

func (w *Worker) handleRequest(kind requestKind) error {
	switch kind {
	case requestStart:
		if w.Running() {
			return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: ErrAlreadyRunning}
		}
		return w.spawn(w.options.LoadMemory, w.options.InitMessage)

	case requestStop:
		w.mu.Lock()
		if !w.running {
			w.mu.Unlock()
			return nil
		}
		w.stopRequested = true
		h := w.handle
		w.mu.Unlock()

		w.logger.Info("stopping agent process", "pid", h.Pid())
		w.emit(EventStopRequested, nil, "")
		if err := h.Interrupt(); err != nil {
			return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: err}
		}
		return nil

	case requestContinue:
		if w.Running() {
			return nil
		}
		if err := w.registry.Register(w.Name, w); err != nil {
			return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: err}
		}
		return w.spawn(true, RestartNotice)
	}
	return nil
}

// spawn starts a new process and makes it the worker's only handle.
func (w *Worker) spawn(loadMemory bool, initMessage string) error {
	w.setState(StateStarting)

	inv := Invocation{
		Name:        w.Name,
		ProfilePath: w.ProfilePath,
		CountID:     w.CountID,
		LoadMemory:  loadMemory,
		InitMessage: initMessage,
		TaskPath:    w.options.TaskPath,
		TaskID:      w.options.TaskID,
		RunID:       w.ID,
	}

	var h Handle
	err := errNoSpawner
	if w.spawner != nil {
		h, err = w.spawner.Spawn(context.Background(), inv)
	}
	if err != nil {
		w.logger.Error("agent process failed to spawn", "profile", w.ProfilePath, "error", err)
		w.setState(StateTerminated)
		w.registry.Logout(w.Name)
		w.emit(EventSpawnFailed, nil, err.Error())
		return &WorkerError{Name: w.Name, Profile: w.ProfilePath, Err: err}
	}

	w.mu.Lock()
	w.handle = h
	w.generation++
	gen := w.generation
	w.exitCh = make(chan struct{})
	w.running = true
	w.stopRequested = false
	w.lastRestartAt = w.now()
	w.state = StateRunning
	w.mu.Unlock()

	w.logger.Info("agent process started", "pid", h.Pid(), "count_id", w.CountID, "load_memory", loadMemory)
	w.emit(EventStarted, nil, initMessage)

	go w.wait(h, gen)
	return nil
}

// wait blocks on the process and forwards its exit to the event loop.
func (w *Worker) wait(h Handle, gen int) {
	status := h.Wait()
	select {
	case w.exits <- exitEvent{generation: gen, status: status}:
	case <-w.closed:
	}
}

func (w *Worker) handleExit(ev exitEvent) {
	w.mu.Lock()
	if ev.generation != w.generation || !w.running {
		w.mu.Unlock()
		return
	}
	status := ev.status
	w.running = false
	w.handle = nil
	w.state = StateExited
	w.lastExit = &status
	stopRequested := w.stopRequested
	ranFor := w.now().Sub(w.lastRestartAt)
	close(w.exitCh)
	w.mu.Unlock()

	w.logger.Info("agent process exited", "code", status.Code, "signal", status.Signal)
	w.registry.Logout(w.Name)

	classified := status
	if stopRequested && !classified.Interrupted() {
		classified.Signal = SignalInterrupt
	}

	switch w.policy.Classify(classified, ranFor) {
	case ActionTerminateFleet:
		w.logger.Warn("agent requested fleet shutdown, ending task", "code", status.Code)
		w.setState(StateTerminated)
		w.emit(EventFleetFatal, &status, "")
		w.terminate(status.Code)

	case ActionAbandon:
		w.logger.Error("agent process exited too quickly and will not be restarted",
			"profile", w.ProfilePath, "ran_for", ranFor, "cooldown", w.policy.Cooldown)
		w.setState(StateTerminated)
		w.emit(EventAbandoned, &status, "")

	case ActionRestart:
		w.logger.Info("restarting agent", "ran_for", ranFor)
		w.setState(StateRestarting)
		w.emit(EventRestarting, &status, "")
		if err := w.registry.Register(w.Name, w); err != nil {
			w.logger.Warn("re-register failed", "error", err)
		}
		w.mu.Lock()
		w.restarts++
		w.mu.Unlock()
		// spawn failures are logged and left alone
		_ = w.spawn(true, RestartNotice)

	default:
		w.setState(StateTerminated)
		w.emit(EventExited, &status, "")
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) emit(t EventType, exit *ExitStatus, msg string) {
	w.observe(Event{
		Type:      t,
		WorkerID:  w.ID,
		AgentName: w.Name,
		Profile:   w.ProfilePath,
		CountID:   w.CountID,
		Pid:       w.Pid(),
		Timestamp: w.now(),
		Exit:      exit,
		Message:   msg,
	})
}
