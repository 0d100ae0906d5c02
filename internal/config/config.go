// Package config provides configuration management for tasksync.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/ledger/driver"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// TasksyncDir is the tasksync configuration directory
	TasksyncDir = ".tasksync"
)

// LedgerConfig configures the idempotency ledger store.
type LedgerConfig struct {
	// Dialect selects the store backend: "sqlite" (default) or "postgres".
	Dialect string `yaml:"dialect"`

	// Path is the SQLite file path, or the Postgres DSN when Dialect is
	// "postgres".
	Path string `yaml:"path"`

	// Retention is how long run records and entries are kept; 'ledger prune'
	// removes anything older.
	Retention time.Duration `yaml:"retention"`
}

// Config represents the tasksync configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	// SpecPath is the task specification path or doublestar glob pattern.
	SpecPath string `yaml:"spec_path"`

	// Marker is the per-deployment identity marker embedded in every remote
	// item body. Two deployments syncing into the same tracker must use
	// distinct markers.
	Marker string `yaml:"marker"`

	// Tracker configures the remote issue tracker provider.
	Tracker tracker.Config `yaml:"tracker"`

	// Concurrency bounds the number of in-flight tracker operations.
	Concurrency int `yaml:"concurrency"`

	// Retry configures backoff for transient tracker failures.
	Retry tracker.RetryConfig `yaml:"retry"`

	// Ledger configures the idempotency ledger store.
	Ledger LedgerConfig `yaml:"ledger"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:     1,
		SpecPath:    filepath.Join(TasksyncDir, "tasks.yaml"),
		Marker:      "tasksync:default",
		Concurrency: 4,
		Retry:       tracker.DefaultRetryConfig(),
		Ledger: LedgerConfig{
			Dialect:   string(driver.DialectSQLite),
			Path:      filepath.Join(TasksyncDir, "ledger.db"),
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load loads configuration with layered precedence.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.tasksync/config.yaml) - optional
//  3. Project config (.tasksync/config.yaml) - optional
//  4. Environment variables (TASKSYNC_*)
func Load() (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, TasksyncDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(TasksyncDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err // Project config errors are fatal
		}
	}

	ApplyEnvVars(cfg)

	return cfg, nil
}

// LoadFrom loads the config from a specific path, layered over defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	ApplyEnvVars(cfg)
	return cfg, nil
}

// mergeFromFile unmarshals a config file over cfg; fields absent from the
// file keep their current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return syncerrors.ErrConfigInvalid(path, err.Error())
	}
	return nil
}

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if c.SpecPath == "" {
		return syncerrors.ErrConfigMissing("spec_path")
	}
	if c.Marker == "" {
		return syncerrors.ErrConfigMissing("marker")
	}
	if c.Concurrency < 1 {
		return syncerrors.ErrConfigInvalid("concurrency", "must be at least 1")
	}
	if c.Ledger.Retention <= 0 {
		return syncerrors.ErrConfigInvalid("ledger.retention", "must be a positive duration")
	}
	if _, err := driver.ParseDialect(c.Ledger.Dialect); err != nil {
		return syncerrors.ErrConfigInvalid("ledger.dialect", err.Error())
	}

	switch tracker.ProviderType(c.Tracker.Provider) {
	case tracker.ProviderGitHub, tracker.ProviderGitLab:
		if c.Tracker.Owner == "" {
			return syncerrors.ErrConfigMissing("tracker.owner")
		}
		if c.Tracker.Repo == "" {
			return syncerrors.ErrConfigMissing("tracker.repo")
		}
	case tracker.ProviderJira:
		if c.Tracker.BaseURL == "" {
			return syncerrors.ErrConfigMissing("tracker.base_url")
		}
		if c.Tracker.ProjectKey == "" {
			return syncerrors.ErrConfigMissing("tracker.project_key")
		}
		if c.Tracker.Email == "" {
			return syncerrors.ErrConfigMissing("tracker.email")
		}
	case "":
		return syncerrors.ErrConfigMissing("tracker.provider")
	default:
		return syncerrors.ErrConfigInvalid("tracker.provider",
			fmt.Sprintf("unknown provider %q (supported: github, gitlab, jira)", c.Tracker.Provider))
	}

	return nil
}

// Save saves the config to the default location.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(TasksyncDir, ConfigFileName))
}

// SaveTo saves the config to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Init initializes the tasksync directory structure.
func Init(force bool) error {
	if !force {
		if _, err := os.Stat(TasksyncDir); err == nil {
			return fmt.Errorf("tasksync already initialized (use --force to overwrite)")
		}
	}

	if err := os.MkdirAll(TasksyncDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", TasksyncDir, err)
	}

	cfg := Default()
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// IsInitialized returns true if tasksync is initialized in the current
// directory.
func IsInitialized() bool {
	_, err := os.Stat(TasksyncDir)
	return err == nil
}
