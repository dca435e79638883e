// Package config provides configuration management for the fleet launcher.
// It supports loading configuration from a settings file, environment
// variables and defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/everydev1618/agentfleet/llm"
)

// Config holds all configuration sections.
type Config struct {
	Roles    RolesConfig    `mapstructure:"roles"`
	Profiles []string       `mapstructure:"profiles"`
	Launch   LaunchConfig   `mapstructure:"launch"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Model    ModelConfig    `mapstructure:"model"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RolesConfig selects the role templates expanded before launch.
type RolesConfig struct {
	Names        []string `mapstructure:"names"`
	TemplatesDir string   `mapstructure:"templates_dir"`
	GeneratedDir string   `mapstructure:"generated_dir"`
}

// LaunchConfig holds the options every launched agent receives.
type LaunchConfig struct {
	Count       int    `mapstructure:"count"`
	LoadMemory  bool   `mapstructure:"load_memory"`
	InitMessage string `mapstructure:"init_message"`
	TaskPath    string `mapstructure:"task_path"`
	TaskID      string `mapstructure:"task_id"`
}

// WorkerConfig describes the worker entry point.
type WorkerConfig struct {
	// Command is the program and leading arguments the agent arguments are appended to
	Command  []string `mapstructure:"command"`
	Dir      string   `mapstructure:"dir"`
	Cooldown int      `mapstructure:"cooldown"` // in seconds
	Stagger  int      `mapstructure:"stagger"`  // in milliseconds

	// Runtime is "exec" for OS child processes or "docker" for containers
	Runtime string `mapstructure:"runtime"`
	Image   string `mapstructure:"image"`
}

// ModelAlias maps a short model name to the name the server knows.
type ModelAlias struct {
	Alias string `mapstructure:"alias"`
	Model string `mapstructure:"model"`
}

// ModelConfig configures the model backend.
type ModelConfig struct {
	// Backend is "local" or "cloud"
	Backend string       `mapstructure:"backend"`
	Host    string       `mapstructure:"host"`
	Port    int          `mapstructure:"port"`
	Name    string       `mapstructure:"name"`
	Aliases []ModelAlias `mapstructure:"aliases"`

	// RequireModel fails the launch health gate when Name is not served
	RequireModel bool `mapstructure:"require_model"`

	CloudModel string `mapstructure:"cloud_model"`
	APIKey     string `mapstructure:"api_key"`
}

// AgentConfig holds settings forwarded to every worker through its environment.
type AgentConfig struct {
	AllowInsecureCoding bool     `mapstructure:"allow_insecure_coding"`
	BlockedActions      []string `mapstructure:"blocked_actions"`
	MaxMessages         int      `mapstructure:"max_messages"`
	NumExamples         int      `mapstructure:"num_examples"`
	LogAllPrompts       bool     `mapstructure:"log_all_prompts"`
}

// ServerConfig holds the control API configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// DatabaseConfig holds the event log location.
type DatabaseConfig struct {
	// Path is the SQLite file; empty means fleet.db under the fleet home
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("roles.names", []string{
		"explorer", "builder", "farmer", "hunter", "leader",
		"engineer", "merchant", "scholar", "healer", "scout",
	})
	v.SetDefault("roles.templates_dir", "./roles/templates")
	v.SetDefault("roles.generated_dir", "./profiles/generated")
	v.SetDefault("profiles", []string{})

	v.SetDefault("launch.count", 1)
	v.SetDefault("launch.load_memory", false)
	v.SetDefault("launch.init_message", "Respond with hello world and your name")
	v.SetDefault("launch.task_path", "./tasks/civilization_task.json")
	v.SetDefault("launch.task_id", "civilization_building")

	v.SetDefault("worker.command", []string{"node", "src/process/init_agent.js"})
	v.SetDefault("worker.dir", "")
	v.SetDefault("worker.cooldown", 10)
	v.SetDefault("worker.stagger", 1000)
	v.SetDefault("worker.runtime", "exec")
	v.SetDefault("worker.image", "node:20-slim")

	v.SetDefault("model.backend", "local")
	v.SetDefault("model.host", "localhost")
	v.SetDefault("model.port", 11434)
	v.SetDefault("model.name", "llama3.1")
	v.SetDefault("model.aliases", []map[string]string{
		{"alias": "llama3.1", "model": "meta-llama-3.1-8b-instruct"},
	})
	v.SetDefault("model.require_model", true)
	v.SetDefault("model.cloud_model", llm.DefaultCloudModel)
	v.SetDefault("model.api_key", "")

	v.SetDefault("agent.allow_insecure_coding", false)
	v.SetDefault("agent.blocked_actions", []string{})
	v.SetDefault("agent.max_messages", 15)
	v.SetDefault("agent.num_examples", 2)
	v.SetDefault("agent.log_all_prompts", false)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads configuration from the environment, a settings file in the
// current directory, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given settings file or directory.
// A missing settings file is not an error.
//
// Besides FLEET_* variables the classic overrides are honoured: OLLAMA_HOST,
// OLLAMA_PORT, OLLAMA_MODEL, PROFILES and BLOCKED_ACTIONS (JSON arrays),
// MINDSERVER_PORT, INSECURE_CODING, MAX_MESSAGES, NUM_EXAMPLES, LOG_ALL and
// GROQCLOUD_API_KEY.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("model.host", "OLLAMA_HOST", "FLEET_MODEL_HOST")
	_ = v.BindEnv("model.port", "OLLAMA_PORT", "FLEET_MODEL_PORT")
	_ = v.BindEnv("model.name", "OLLAMA_MODEL", "FLEET_MODEL_NAME")
	_ = v.BindEnv("model.api_key", "GROQCLOUD_API_KEY", "FLEET_MODEL_API_KEY")
	_ = v.BindEnv("server.port", "MINDSERVER_PORT", "FLEET_SERVER_PORT")
	_ = v.BindEnv("agent.max_messages", "MAX_MESSAGES")
	_ = v.BindEnv("agent.num_examples", "NUM_EXAMPLES")
	_ = v.BindEnv("agent.log_all_prompts", "LOG_ALL")

	if configPath != "" && filepath.Ext(configPath) != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("settings")
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides handles the variables viper cannot bind directly.
func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("PROFILES"); raw != "" {
		var profiles []string
		if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
			return fmt.Errorf("PROFILES must be a JSON array of paths: %w", err)
		}
		if len(profiles) > 0 {
			cfg.Profiles = profiles
		}
	}
	if raw := os.Getenv("BLOCKED_ACTIONS"); raw != "" {
		var actions []string
		if err := json.Unmarshal([]byte(raw), &actions); err != nil {
			return fmt.Errorf("BLOCKED_ACTIONS must be a JSON array: %w", err)
		}
		cfg.Agent.BlockedActions = actions
	}
	// any value enables it
	if os.Getenv("INSECURE_CODING") != "" {
		cfg.Agent.AllowInsecureCoding = true
	}
	return nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if len(cfg.Worker.Command) == 0 {
		errs = append(errs, "worker.command is required")
	}
	if cfg.Worker.Cooldown < 0 {
		errs = append(errs, "worker.cooldown must not be negative")
	}
	if cfg.Launch.Count < 1 {
		errs = append(errs, "launch.count must be at least 1")
	}

	validRuntimes := map[string]bool{"exec": true, "docker": true}
	if !validRuntimes[strings.ToLower(cfg.Worker.Runtime)] {
		errs = append(errs, "worker.runtime must be one of: exec, docker")
	}

	validBackends := map[string]bool{"local": true, "cloud": true}
	if !validBackends[strings.ToLower(cfg.Model.Backend)] {
		errs = append(errs, "model.backend must be one of: local, cloud")
	}

	if cfg.Server.Enabled && (cfg.Server.Port <= 0 || cfg.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ModelName resolves the configured model name through the alias table.
func (m *ModelConfig) ModelName() string {
	for _, a := range m.Aliases {
		if a.Alias == m.Name {
			return a.Model
		}
	}
	return m.Name
}

// LocalURL returns the local model server URL.
func (m *ModelConfig) LocalURL() string {
	port := ""
	if m.Port > 0 {
		port = strconv.Itoa(m.Port)
	}
	return llm.LocalURL(m.Host, port)
}

// CooldownDuration returns the restart cooldown.
func (w *WorkerConfig) CooldownDuration() time.Duration {
	return time.Duration(w.Cooldown) * time.Second
}

// StaggerDuration returns the delay between launches.
func (w *WorkerConfig) StaggerDuration() time.Duration {
	return time.Duration(w.Stagger) * time.Millisecond
}

// Env renders the agent settings as environment variables for workers.
func (a *AgentConfig) Env() []string {
	blocked, _ := json.Marshal(a.BlockedActions)
	env := []string{
		"BLOCKED_ACTIONS=" + string(blocked),
		"MAX_MESSAGES=" + strconv.Itoa(a.MaxMessages),
		"NUM_EXAMPLES=" + strconv.Itoa(a.NumExamples),
	}
	if a.AllowInsecureCoding {
		env = append(env, "INSECURE_CODING=true")
	}
	if a.LogAllPrompts {
		env = append(env, "LOG_ALL=true")
	}
	return env
}

// Addr returns the control API listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
