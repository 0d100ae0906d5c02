// Package github implements the tracker provider for GitHub Issues.
package github

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/tasksync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*GitHubProvider)(nil)

func init() {
	tracker.RegisterProvider(tracker.ProviderGitHub, newProvider)
}

// GitHubProvider implements tracker.Provider using the go-github library.
// Tracked items are repository issues; parent-child links use the
// sub-issues REST endpoints.
type GitHubProvider struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// newProvider creates a new GitHubProvider from configuration.
func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := tracker.ResolveToken(cfg, "GITHUB_TOKEN")
	if err != nil {
		return nil, err
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github tracker requires owner and repo")
	}

	httpClient := &http.Client{
		Transport: &oauth2Transport{token: token},
	}
	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, parseErr)
		}
		client.UploadURL, parseErr = client.UploadURL.Parse(baseURL + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, parseErr)
		}
	}

	return &GitHubProvider{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
	}, nil
}

// oauth2Transport adds an Authorization header to every request.
type oauth2Transport struct {
	token string
	base  http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the provider type.
func (g *GitHubProvider) Name() tracker.ProviderType {
	return tracker.ProviderGitHub
}

// CheckAuth validates the token by fetching the authenticated user.
func (g *GitHubProvider) CheckAuth(ctx context.Context) error {
	_, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

// CreateItem creates an issue.
func (g *GitHubProvider) CreateItem(ctx context.Context, title, body string, labels []string) (*tracker.Record, error) {
	req := &gogithub.IssueRequest{
		Title: gogithub.Ptr(title),
		Body:  gogithub.Ptr(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return mapIssue(issue), nil
}

// UpdateItem rewrites the selected fields of an issue.
func (g *GitHubProvider) UpdateItem(ctx context.Context, remoteID string, opts tracker.UpdateOptions) error {
	number, err := parseNumber(remoteID)
	if err != nil {
		return err
	}

	req := &gogithub.IssueRequest{
		Body:   opts.Body,
		Labels: opts.Labels,
	}
	_, _, err = g.client.Issues.Edit(ctx, g.owner, g.repo, number, req)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", number, err)
	}
	return nil
}

// FindItemByTitleAndMarker locates the issue whose title matches exactly and
// whose body contains the deployment marker.
func (g *GitHubProvider) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*tracker.Record, error) {
	records, err := g.ListItems(ctx, marker)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Title == title && strings.Contains(records[i].Body, marker) {
			return &records[i], nil
		}
	}
	return nil, tracker.ErrItemNotFound
}

// ListItems returns every issue whose body contains the marker, using the
// search API with pagination.
func (g *GitHubProvider) ListItems(ctx context.Context, marker string) ([]tracker.Record, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue %q in:body", g.owner, g.repo, marker)
	opts := &gogithub.SearchOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var records []tracker.Record
	for {
		result, resp, err := g.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}
		for _, issue := range result.Issues {
			// The search index can lag; re-check the marker on the body.
			if !strings.Contains(issue.GetBody(), marker) {
				continue
			}
			records = append(records, *mapIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return records, nil
}

// ListChildItems returns the sub-issues linked under a parent issue.
func (g *GitHubProvider) ListChildItems(ctx context.Context, parentID string) ([]tracker.Record, error) {
	number, err := parseNumber(parentID)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("repos/%s/%s/issues/%d/sub_issues", g.owner, g.repo, number)
	req, err := g.client.NewRequest("GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("build sub-issues request: %w", err)
	}

	var buf bytes.Buffer
	if _, err := g.client.Do(ctx, req, &buf); err != nil {
		return nil, fmt.Errorf("list sub-issues of %d: %w", number, err)
	}

	var records []tracker.Record
	for _, item := range gjson.ParseBytes(buf.Bytes()).Array() {
		var labels []string
		for _, l := range item.Get("labels.#.name").Array() {
			labels = append(labels, l.String())
		}
		records = append(records, tracker.Record{
			RemoteID: item.Get("number").String(),
			Number:   int(item.Get("number").Int()),
			Title:    item.Get("title").String(),
			State:    mapState(item.Get("state").String()),
			Body:     item.Get("body").String(),
			Labels:   labels,
		})
	}
	return records, nil
}

// LinkChildItem adds the child issue as a sub-issue of the parent. The
// sub-issues endpoint wants the child's database id, so the child is
// fetched first.
func (g *GitHubProvider) LinkChildItem(ctx context.Context, parentID, childID string) error {
	parentNumber, err := parseNumber(parentID)
	if err != nil {
		return err
	}
	childNumber, err := parseNumber(childID)
	if err != nil {
		return err
	}

	child, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, childNumber)
	if err != nil {
		return fmt.Errorf("get child issue %d: %w", childNumber, err)
	}

	u := fmt.Sprintf("repos/%s/%s/issues/%d/sub_issues", g.owner, g.repo, parentNumber)
	payload := map[string]int64{"sub_issue_id": child.GetID()}
	req, err := g.client.NewRequest("POST", u, payload)
	if err != nil {
		return fmt.Errorf("build sub-issue link request: %w", err)
	}
	if _, err := g.client.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("link issue %d under %d: %w", childNumber, parentNumber, err)
	}
	return nil
}

// mapIssue converts a go-github Issue to a tracker.Record.
func mapIssue(issue *gogithub.Issue) *tracker.Record {
	var labels []string
	for _, l := range issue.Labels {
		if name := l.GetName(); name != "" {
			labels = append(labels, name)
		}
	}
	return &tracker.Record{
		RemoteID: strconv.Itoa(issue.GetNumber()),
		Number:   issue.GetNumber(),
		Title:    issue.GetTitle(),
		State:    mapState(issue.GetState()),
		Body:     issue.GetBody(),
		Labels:   labels,
	}
}

func mapState(state string) tracker.State {
	if state == "closed" {
		return tracker.StateClosed
	}
	return tracker.StateOpen
}

func parseNumber(remoteID string) (int, error) {
	number, err := strconv.Atoi(remoteID)
	if err != nil {
		return 0, fmt.Errorf("invalid github issue id %q: %w", remoteID, err)
	}
	return number, nil
}
