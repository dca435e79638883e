package fleet

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentProfile identifies one agent configuration on disk.
type AgentProfile struct {
	// Name is the agent name declared by the profile document.
	Name string

	// SourcePath is where the profile document was read from.
	SourcePath string
}

// profileHeader is the only part of a profile the fleet cares about.
type profileHeader struct {
	Name string `json:"name" yaml:"name"`
}

// ReadProfile loads the profile at path and extracts its name.
func ReadProfile(path string) (AgentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AgentProfile{}, &ProfileReadError{Path: path, Err: err}
	}

	var header profileHeader
	if err := decodeProfile(data, &header); err != nil {
		return AgentProfile{}, &ProfileReadError{Path: path, Err: err}
	}

	name := strings.TrimSpace(header.Name)
	if name == "" {
		return AgentProfile{}, &ProfileReadError{Path: path, Err: errors.New("profile has no name")}
	}

	return AgentProfile{Name: name, SourcePath: path}, nil
}

// decodeProfile accepts JSON profiles as well as YAML ones. JSON documents go
// through encoding/json since tab-indented JSON is not valid YAML.
func decodeProfile(data []byte, v *profileHeader) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.Unmarshal(trimmed, v)
	}
	return yaml.Unmarshal(trimmed, v)
}
