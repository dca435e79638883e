package fleet

import (
	"os"
	"path/filepath"
)

// Home returns the fleet home directory.
// It defaults to ~/.agentfleet but can be overridden with the AGENTFLEET_HOME environment variable.
func Home() string {
	if v := os.Getenv("AGENTFLEET_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentfleet")
}

// DefaultDBPath returns the default lifecycle event database path (~/.agentfleet/fleet.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "fleet.db")
}

// EnsureHome creates the fleet home directory if it doesn't exist.
func EnsureHome() error {
	return os.MkdirAll(Home(), 0o755)
}
