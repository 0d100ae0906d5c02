package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Tracker.Provider = "github"
	cfg.Tracker.Owner = "acme"
	cfg.Tracker.Repo = "widgets"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.Ledger.Dialect != "sqlite" {
		t.Errorf("Ledger.Dialect = %q, want sqlite", cfg.Ledger.Dialect)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Retry.MaxAttempts = %d, want 4", cfg.Retry.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode syncerrors.Code
	}{
		{"valid github", func(c *Config) {}, ""},
		{"valid jira", func(c *Config) {
			c.Tracker = validJiraTracker()
		}, ""},
		{"missing provider", func(c *Config) {
			c.Tracker.Provider = ""
		}, syncerrors.CodeConfigMissing},
		{"unknown provider", func(c *Config) {
			c.Tracker.Provider = "bugzilla"
		}, syncerrors.CodeConfigInvalid},
		{"github without owner", func(c *Config) {
			c.Tracker.Owner = ""
		}, syncerrors.CodeConfigMissing},
		{"github without repo", func(c *Config) {
			c.Tracker.Repo = ""
		}, syncerrors.CodeConfigMissing},
		{"jira without project key", func(c *Config) {
			c.Tracker = validJiraTracker()
			c.Tracker.ProjectKey = ""
		}, syncerrors.CodeConfigMissing},
		{"empty marker", func(c *Config) {
			c.Marker = ""
		}, syncerrors.CodeConfigMissing},
		{"empty spec path", func(c *Config) {
			c.SpecPath = ""
		}, syncerrors.CodeConfigMissing},
		{"zero concurrency", func(c *Config) {
			c.Concurrency = 0
		}, syncerrors.CodeConfigInvalid},
		{"bad dialect", func(c *Config) {
			c.Ledger.Dialect = "oracle"
		}, syncerrors.CodeConfigInvalid},
		{"zero retention", func(c *Config) {
			c.Ledger.Retention = 0
		}, syncerrors.CodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, &syncerrors.SyncError{Code: tt.wantCode}) {
				t.Fatalf("Validate() = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func validJiraTracker() tracker.Config {
	return tracker.Config{
		Provider:   "jira",
		BaseURL:    "https://acme.atlassian.net",
		ProjectKey: "SYNC",
		Email:      "bot@acme.test",
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := validConfig()
	cfg.Marker = "tasksync:prod"
	cfg.Concurrency = 8
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if loaded.Marker != "tasksync:prod" {
		t.Errorf("Marker = %q, want tasksync:prod", loaded.Marker)
	}
	if loaded.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", loaded.Concurrency)
	}
}

func TestLoadFromKeepsDefaultsForAbsentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("marker: tasksync:partial\ntracker:\n  provider: gitlab\n  owner: grp\n  repo: proj\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Marker != "tasksync:partial" {
		t.Errorf("Marker = %q", cfg.Marker)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want default 4", cfg.Concurrency)
	}
	if cfg.Ledger.Retention != 30*24*time.Hour {
		t.Errorf("Retention = %v, want default", cfg.Ledger.Retention)
	}
}

func TestLoadFromMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("::not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if !errors.Is(err, &syncerrors.SyncError{Code: syncerrors.CodeConfigInvalid}) {
		t.Fatalf("LoadFrom() = %v, want CONFIG_INVALID", err)
	}
}

func TestApplyEnvVars(t *testing.T) {
	t.Setenv("TASKSYNC_MARKER", "tasksync:env")
	t.Setenv("TASKSYNC_CONCURRENCY", "9")
	t.Setenv("TASKSYNC_LEDGER_RETENTION", "72h")

	cfg := Default()
	overridden := ApplyEnvVars(cfg)

	if cfg.Marker != "tasksync:env" {
		t.Errorf("Marker = %q", cfg.Marker)
	}
	if cfg.Concurrency != 9 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if cfg.Ledger.Retention != 72*time.Hour {
		t.Errorf("Retention = %v", cfg.Ledger.Retention)
	}
	if len(overridden) != 3 {
		t.Errorf("overridden = %v, want 3 paths", overridden)
	}
}

func TestApplyEnvVarsIgnoresUnparseable(t *testing.T) {
	t.Setenv("TASKSYNC_CONCURRENCY", "lots")

	cfg := Default()
	ApplyEnvVars(cfg)
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want default preserved", cfg.Concurrency)
	}
}
