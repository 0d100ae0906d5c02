// Package tracker provides a unified gateway to external issue trackers
// (GitHub, GitLab, Jira Cloud).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrItemNotFound is returned when no remote item matches a lookup.
var ErrItemNotFound = errors.New("no tracker item found")

// ProviderType identifies which tracker provider is in use.
type ProviderType string

const (
	ProviderGitHub  ProviderType = "github"
	ProviderGitLab  ProviderType = "gitlab"
	ProviderJira    ProviderType = "jira"
	ProviderUnknown ProviderType = "unknown"
)

// State is the remote lifecycle state of a tracked item.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Record is the observed remote representation of one task. Exactly one
// Record corresponds to each task once materialized; the title+marker
// matching rule enforces the 1:1 invariant.
type Record struct {
	RemoteID string   `json:"remote_id"`
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	State    State    `json:"state"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
}

// UpdateOptions selects which fields of a remote item to rewrite. Nil
// fields are left untouched.
type UpdateOptions struct {
	Body   *string
	Labels *[]string
}

// Provider is the interface to a remote issue tracker. Implementations are
// plain clients: retry, backoff, and concurrency bounding live in Queue.
type Provider interface {
	// CreateItem creates a remote item and returns its record.
	CreateItem(ctx context.Context, title, body string, labels []string) (*Record, error)

	// UpdateItem rewrites the selected fields of an existing item.
	UpdateItem(ctx context.Context, remoteID string, opts UpdateOptions) error

	// FindItemByTitleAndMarker locates the item whose title matches exactly
	// and whose body contains the deployment marker. Returns
	// ErrItemNotFound when no item qualifies.
	FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*Record, error)

	// ListItems returns every item whose body contains the marker.
	ListItems(ctx context.Context, marker string) ([]Record, error)

	// ListChildItems returns the items natively linked under a parent.
	ListChildItems(ctx context.Context, parentID string) ([]Record, error)

	// LinkChildItem creates a native parent-child association. Best-effort:
	// callers treat failures as non-fatal.
	LinkChildItem(ctx context.Context, parentID, childID string) error

	// CheckAuth validates the configured credentials.
	CheckAuth(ctx context.Context) error

	// Name returns the provider type.
	Name() ProviderType
}

// Config holds tracker provider configuration.
type Config struct {
	// Provider type: "github", "gitlab", or "jira".
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL for self-hosted instances or the Jira Cloud site URL.
	// Leave empty for github.com / gitlab.com.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// Owner and Repo identify the GitHub repository or GitLab project
	// ("owner" may be a nested GitLab group path).
	Owner string `yaml:"owner" json:"owner,omitempty"`
	Repo  string `yaml:"repo" json:"repo,omitempty"`

	// ProjectKey is the Jira project key (e.g. "SYNC").
	ProjectKey string `yaml:"project_key" json:"project_key,omitempty"`

	// Email is the Jira account email for basic auth.
	Email string `yaml:"email" json:"email,omitempty"`

	// TokenEnvVar overrides the default token environment variable name.
	// Defaults: GITHUB_TOKEN, GITLAB_TOKEN, JIRA_API_TOKEN.
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty"`
}

// NewProviderFunc is a constructor function for creating a tracker provider.
// The actual constructors are registered at init time by the provider
// packages to avoid import cycles.
type NewProviderFunc func(cfg Config) (Provider, error)

var providerConstructors = map[ProviderType]NewProviderFunc{}

// RegisterProvider registers a provider constructor. Called from init() in
// provider packages (github/, gitlab/, jira/).
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	providerConstructors[providerType] = constructor
}

// NewProvider creates a tracker provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	pt := ProviderType(cfg.Provider)
	switch pt {
	case ProviderGitHub, ProviderGitLab, ProviderJira:
	default:
		return nil, fmt.Errorf("unknown tracker provider %q (supported: github, gitlab, jira)", cfg.Provider)
	}

	constructor, ok := providerConstructors[pt]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", pt, registeredProviders())
	}
	return constructor(cfg)
}

func registeredProviders() []ProviderType {
	var providers []ProviderType
	for pt := range providerConstructors {
		providers = append(providers, pt)
	}
	return providers
}

// ResolveToken reads the provider token from the environment, honoring the
// TokenEnvVar override.
func ResolveToken(cfg Config, defaultEnvVar string) (string, error) {
	envVar := cfg.TokenEnvVar
	if envVar == "" {
		envVar = defaultEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("tracker token not set: export %s", envVar)
	}
	return token, nil
}
