package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/internal/config"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a.json", []string{"a.json"}},
		{" a.json, b.json ,,", []string{"a.json", "b.json"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitList(tt.in), tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		for _, format := range []string{"text", "json"} {
			l := newLogger(config.LoggingConfig{Level: tt.level, Format: format})
			assert.True(t, l.Enabled(context.Background(), tt.enabled), "%s/%s", tt.level, format)
			assert.False(t, l.Enabled(context.Background(), tt.muted), "%s/%s", tt.level, format)
		}
	}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithPath(t.TempDir())
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Roles.TemplatesDir = filepath.Join(dir, "templates")
	cfg.Roles.GeneratedDir = filepath.Join(dir, "generated")
	require.NoError(t, os.MkdirAll(cfg.Roles.TemplatesDir, 0o755))
	cfg.Roles.Names = []string{"miner", "farmer"}
	for _, role := range cfg.Roles.Names {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Roles.TemplatesDir, role+".json"),
			[]byte(`{"name": "$NAME"}`), 0o644))
	}
	return cfg
}

func TestResolveProfilesGenerated(t *testing.T) {
	cfg := newTestConfig(t)

	paths, err := resolveProfiles(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(cfg.Roles.GeneratedDir, "farmer.json"),
		filepath.Join(cfg.Roles.GeneratedDir, "miner.json"),
	}, paths)

	for _, path := range paths {
		p, err := fleet.ReadProfile(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(path), p.Name+".json")
	}
}

func TestResolveProfilesExplicitWins(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Profiles = []string{"./andy.json"}

	paths, err := resolveProfiles(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"./andy.json"}, paths)
}

func TestResolveProfilesNothingToLaunch(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := resolveProfiles(context.Background(), cfg, false)
	assert.ErrorIs(t, err, fleet.ErrNoProfiles)
}

func TestNewBackend(t *testing.T) {
	cfg := newTestConfig(t)

	local := newBackend(cfg)
	assert.NotNil(t, local.health)
	assert.Nil(t, local.vision)

	cfg.Model.Backend = "cloud"
	cloud := newBackend(cfg)
	assert.Nil(t, cloud.health)
	assert.NotNil(t, cloud.vision)
}

func TestNewSpawnerExec(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Agent.MaxMessages = 30

	s, closeFn, err := newSpawner(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	exec, ok := s.(*fleet.ExecSpawner)
	require.True(t, ok)
	assert.Equal(t, cfg.Worker.Command, exec.Command)
	assert.Contains(t, exec.Env, "MAX_MESSAGES=30")
}

// TestHelperProcess is not a real test. runCmd tests use it as the worker
// entry point; it exits with FLEET_HELPER_EXIT.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("FLEET_WANT_HELPER_PROCESS") != "1" {
		return
	}
	code, _ := strconv.Atoi(os.Getenv("FLEET_HELPER_EXIT"))
	os.Exit(code)
}

// writeSettings writes a settings file that launches the helper process
// without a control API or any pacing.
func writeSettings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := fmt.Sprintf(`worker:
  command: [%q, "-test.run=TestHelperProcess", "--"]
  cooldown: 0
  stagger: 0
server:
  enabled: false
logging:
  level: error
`, os.Args[0])
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func modelServer(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[`)
		for i, m := range models {
			if i > 0 {
				io.WriteString(w, ",")
			}
			fmt.Fprintf(w, `{"id":%q}`, m)
		}
		io.WriteString(w, `]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunUnreachableBackendExitsOne(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	t.Setenv("OLLAMA_HOST", url)

	code := runCmd([]string{"-config", writeSettings(t), "-profiles", "x", "-no-server", "-no-provision"})
	assert.Equal(t, 1, code)
}

func TestRunMissingModelExitsOne(t *testing.T) {
	srv := modelServer(t, "some-other-model")
	t.Setenv("OLLAMA_HOST", srv.URL)
	t.Setenv("OLLAMA_MODEL", "wanted-model")

	code := runCmd([]string{"-config", writeSettings(t), "-profiles", "x", "-no-server", "-no-provision"})
	assert.Equal(t, 1, code)
}

func TestRunExitsWithFleetFatalCode(t *testing.T) {
	srv := modelServer(t, "wanted-model")
	t.Setenv("OLLAMA_HOST", srv.URL)
	t.Setenv("OLLAMA_MODEL", "wanted-model")
	t.Setenv("FLEET_WANT_HELPER_PROCESS", "1")
	t.Setenv("FLEET_HELPER_EXIT", "3")

	profile := filepath.Join(t.TempDir(), "andy.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{"name": "andy"}`), 0o644))

	settings := writeSettings(t)

	done := make(chan int, 1)
	go func() {
		done <- runCmd([]string{"-config", settings, "-profiles", profile, "-no-server", "-no-provision"})
	}()

	select {
	case code := <-done:
		assert.Equal(t, 3, code)
	case <-time.After(30 * time.Second):
		t.Fatal("run did not return after a fleet-fatal exit")
	}
}
