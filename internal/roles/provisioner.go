// Package roles expands role templates into agent profiles.
package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Placeholder is replaced by the role name everywhere in a template.
const Placeholder = "$NAME"

// lockName is held in the generated directory while profiles are written.
const lockName = ".provision.lock"

// TemplateError reports a role whose template is missing or does not yield
// valid JSON once the placeholder is substituted.
type TemplateError struct {
	Role string
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("role %s (%s): %v", e.Role, e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Provisioner writes one profile per role from <templates>/<role>.json into
// the generated directory.
type Provisioner struct {
	TemplatesDir string
	GeneratedDir string

	logger *slog.Logger
}

// NewProvisioner creates a provisioner for the two directories.
func NewProvisioner(templatesDir, generatedDir string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{TemplatesDir: templatesDir, GeneratedDir: generatedDir, logger: logger}
}

// Generate expands the template of every role and writes the result. Output
// is a pure function of the template and role name, so running it again
// rewrites identical bytes. Concurrent runs on the same generated directory
// are serialized through a file lock.
func (p *Provisioner) Generate(ctx context.Context, roles []string) error {
	if err := os.MkdirAll(p.GeneratedDir, 0755); err != nil {
		return fmt.Errorf("create generated dir: %w", err)
	}

	fileLock := flock.New(filepath.Join(p.GeneratedDir, lockName))
	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring provision lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("provision lock held by another process")
	}
	defer func() { _ = fileLock.Unlock() }()

	for _, role := range roles {
		data, err := p.Render(role)
		if err != nil {
			return err
		}
		out := filepath.Join(p.GeneratedDir, role+".json")
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("write profile %s: %w", out, err)
		}
		p.logger.Debug("generated profile", "role", role, "path", out)
	}
	return nil
}

// Render returns the generated profile for role without writing it.
func (p *Provisioner) Render(role string) ([]byte, error) {
	path := filepath.Join(p.TemplatesDir, role+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &TemplateError{Role: role, Path: path, Err: err}
	}

	expanded := strings.ReplaceAll(string(raw), Placeholder, role)
	if !json.Valid([]byte(expanded)) {
		var v any
		err := json.Unmarshal([]byte(expanded), &v)
		return nil, &TemplateError{Role: role, Path: path, Err: fmt.Errorf("invalid JSON after substitution: %w", err)}
	}

	// Indent keeps key order as written in the template.
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace([]byte(expanded)), "", "  "); err != nil {
		return nil, &TemplateError{Role: role, Path: path, Err: err}
	}
	return buf.Bytes(), nil
}

// ProfilePaths lists the generated profiles, sorted.
func (p *Provisioner) ProfilePaths() ([]string, error) {
	entries, err := os.ReadDir(p.GeneratedDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(p.GeneratedDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
