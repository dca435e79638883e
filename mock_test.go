package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// mockHandle is a process that exits when the test says so.
type mockHandle struct {
	pid int

	// interruptStatus is what the process exits with on Interrupt
	interruptStatus ExitStatus

	exit chan ExitStatus
	once sync.Once
}

func (h *mockHandle) Pid() int { return h.pid }

func (h *mockHandle) Interrupt() error {
	h.Exit(h.interruptStatus)
	return nil
}

func (h *mockHandle) Wait() ExitStatus { return <-h.exit }

// Exit ends the process with st. Later calls are ignored.
func (h *mockHandle) Exit(st ExitStatus) {
	h.once.Do(func() { h.exit <- st })
}

// mockSpawner records invocations and hands out mockHandles.
type mockSpawner struct {
	mu          sync.Mutex
	invocations []Invocation
	handles     []*mockHandle

	// failOn makes the n-th spawn (1-based) fail
	failOn map[int]error

	// interruptStatus is copied into every handle
	interruptStatus ExitStatus
}

func newMockSpawner() *mockSpawner {
	return &mockSpawner{
		failOn:          make(map[int]error),
		interruptStatus: ExitStatus{Code: -1, Signal: SignalInterrupt},
	}
}

func (s *mockSpawner) Spawn(ctx context.Context, inv Invocation) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocations = append(s.invocations, inv)
	if err, ok := s.failOn[len(s.invocations)]; ok {
		return nil, err
	}
	h := &mockHandle{
		pid:             1000 + len(s.invocations),
		interruptStatus: s.interruptStatus,
		exit:            make(chan ExitStatus, 1),
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *mockSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invocations)
}

func (s *mockSpawner) invocation(i int) Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invocations[i]
}

func (s *mockSpawner) handle(i int) *mockHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

var errSpawn = errors.New("exec: no such file")

// mockClock is a manually advanced clock.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventRecorder collects lifecycle events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) has(t EventType) bool {
	for _, got := range r.types() {
		if got == t {
			return true
		}
	}
	return false
}

// sleepRecorder replaces real sleeps and records the requested durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeProfile writes a JSON profile named name into dir and returns its path.
func writeProfile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, []byte(`{"name": "`+name+`", "model": "llama3.1"}`), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
