package config

import (
	"os"
	"strconv"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config
// paths, for documentation and the 'config' command.
var EnvVarMapping = map[string]string{
	"TASKSYNC_SPEC_PATH":        "spec_path",
	"TASKSYNC_MARKER":           "marker",
	"TASKSYNC_CONCURRENCY":      "concurrency",
	"TASKSYNC_PROVIDER":         "tracker.provider",
	"TASKSYNC_BASE_URL":         "tracker.base_url",
	"TASKSYNC_OWNER":            "tracker.owner",
	"TASKSYNC_REPO":             "tracker.repo",
	"TASKSYNC_PROJECT_KEY":      "tracker.project_key",
	"TASKSYNC_EMAIL":            "tracker.email",
	"TASKSYNC_TOKEN_ENV_VAR":    "tracker.token_env_var",
	"TASKSYNC_RETRY_ATTEMPTS":   "retry.max_attempts",
	"TASKSYNC_LEDGER_DIALECT":   "ledger.dialect",
	"TASKSYNC_LEDGER_PATH":      "ledger.path",
	"TASKSYNC_LEDGER_RETENTION": "ledger.retention",
}

// ApplyEnvVars applies TASKSYNC_* environment variable overrides to cfg.
// Returns the list of config paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string

	apply := func(envVar, path string, set func(value string) bool) {
		value := os.Getenv(envVar)
		if value == "" {
			return
		}
		if set(value) {
			overridden = append(overridden, path)
		}
	}

	setString := func(dst *string) func(string) bool {
		return func(v string) bool {
			*dst = v
			return true
		}
	}
	setInt := func(dst *int) func(string) bool {
		return func(v string) bool {
			n, err := strconv.Atoi(v)
			if err != nil {
				return false
			}
			*dst = n
			return true
		}
	}
	setDuration := func(dst *time.Duration) func(string) bool {
		return func(v string) bool {
			d, err := time.ParseDuration(v)
			if err != nil {
				return false
			}
			*dst = d
			return true
		}
	}

	apply("TASKSYNC_SPEC_PATH", "spec_path", setString(&cfg.SpecPath))
	apply("TASKSYNC_MARKER", "marker", setString(&cfg.Marker))
	apply("TASKSYNC_CONCURRENCY", "concurrency", setInt(&cfg.Concurrency))
	apply("TASKSYNC_PROVIDER", "tracker.provider", setString(&cfg.Tracker.Provider))
	apply("TASKSYNC_BASE_URL", "tracker.base_url", setString(&cfg.Tracker.BaseURL))
	apply("TASKSYNC_OWNER", "tracker.owner", setString(&cfg.Tracker.Owner))
	apply("TASKSYNC_REPO", "tracker.repo", setString(&cfg.Tracker.Repo))
	apply("TASKSYNC_PROJECT_KEY", "tracker.project_key", setString(&cfg.Tracker.ProjectKey))
	apply("TASKSYNC_EMAIL", "tracker.email", setString(&cfg.Tracker.Email))
	apply("TASKSYNC_TOKEN_ENV_VAR", "tracker.token_env_var", setString(&cfg.Tracker.TokenEnvVar))
	apply("TASKSYNC_RETRY_ATTEMPTS", "retry.max_attempts", setInt(&cfg.Retry.MaxAttempts))
	apply("TASKSYNC_LEDGER_DIALECT", "ledger.dialect", setString(&cfg.Ledger.Dialect))
	apply("TASKSYNC_LEDGER_PATH", "ledger.path", setString(&cfg.Ledger.Path))
	apply("TASKSYNC_LEDGER_RETENTION", "ledger.retention", setDuration(&cfg.Ledger.Retention))

	return overridden
}
