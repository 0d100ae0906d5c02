// Package gitlab implements the tracker provider for GitLab issues.
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/tasksync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*GitLabProvider)(nil)

func init() {
	tracker.RegisterProvider(tracker.ProviderGitLab, newProvider)
}

// GitLabProvider implements tracker.Provider using the go-gitlab library.
// Tracked items are project issues; parent-child links use issue links with
// the relates_to type.
type GitLabProvider struct {
	client    *gogitlab.Client
	projectID string // URL-encoded "owner/repo" path used as project identifier
}

// newProvider creates a new GitLabProvider from configuration.
func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := tracker.ResolveToken(cfg, "GITLAB_TOKEN")
	if err != nil {
		return nil, err
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("gitlab tracker requires owner and repo")
	}

	// Project ID is the full path: "owner/repo" or "group/subgroup/repo".
	projectID := cfg.Owner + "/" + cfg.Repo

	var client *gogitlab.Client
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		client, err = gogitlab.NewClient(token, gogitlab.WithBaseURL(baseURL+"/api/v4"))
	} else {
		client, err = gogitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return &GitLabProvider{
		client:    client,
		projectID: projectID,
	}, nil
}

// Name returns the provider type.
func (g *GitLabProvider) Name() tracker.ProviderType {
	return tracker.ProviderGitLab
}

// CheckAuth validates the token by fetching the authenticated user.
func (g *GitLabProvider) CheckAuth(ctx context.Context) error {
	_, _, err := g.client.Users.CurrentUser(gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

// CreateItem creates a project issue.
func (g *GitLabProvider) CreateItem(ctx context.Context, title, body string, labels []string) (*tracker.Record, error) {
	opts := &gogitlab.CreateIssueOptions{
		Title:       gogitlab.Ptr(title),
		Description: gogitlab.Ptr(body),
	}
	if len(labels) > 0 {
		labelOpts := gogitlab.LabelOptions(labels)
		opts.Labels = &labelOpts
	}

	issue, _, err := g.client.Issues.CreateIssue(g.projectID, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return mapIssue(issue), nil
}

// UpdateItem rewrites the selected fields of an issue.
func (g *GitLabProvider) UpdateItem(ctx context.Context, remoteID string, opts tracker.UpdateOptions) error {
	iid, err := parseIID(remoteID)
	if err != nil {
		return err
	}

	update := &gogitlab.UpdateIssueOptions{
		Description: opts.Body,
	}
	if opts.Labels != nil {
		labelOpts := gogitlab.LabelOptions(*opts.Labels)
		update.Labels = &labelOpts
	}

	_, _, err = g.client.Issues.UpdateIssue(g.projectID, int64(iid), update, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("update issue %d: %w", iid, err)
	}
	return nil
}

// FindItemByTitleAndMarker locates the issue whose title matches exactly and
// whose description contains the deployment marker.
func (g *GitLabProvider) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*tracker.Record, error) {
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

// ListItems returns every issue whose description contains the marker.
func (g *GitLabProvider) ListItems(ctx context.Context, marker string) ([]tracker.Record, error) {
	opts := &gogitlab.ListProjectIssuesOptions{
		Search:      gogitlab.Ptr(marker),
		In:          gogitlab.Ptr("description"),
		ListOptions: gogitlab.ListOptions{PerPage: 100},
	}

	var records []tracker.Record
	for {
		issues, resp, err := g.client.Issues.ListProjectIssues(g.projectID, opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, issue := range issues {
			if !strings.Contains(issue.Description, marker) {
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

// ListChildItems returns the issues linked to the parent. GitLab has no
// native sub-issue hierarchy on plain issues, so relates_to links stand in
// for parent-child associations.
func (g *GitLabProvider) ListChildItems(ctx context.Context, parentID string) ([]tracker.Record, error) {
	iid, err := parseIID(parentID)
	if err != nil {
		return nil, err
	}

	issues, _, err := g.client.IssueLinks.ListIssueRelations(g.projectID, int64(iid), gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list linked issues of %d: %w", iid, err)
	}

	records := make([]tracker.Record, 0, len(issues))
	for _, issue := range issues {
		records = append(records, *mapRelation(issue))
	}
	return records, nil
}

// LinkChildItem links the child issue to the parent.
func (g *GitLabProvider) LinkChildItem(ctx context.Context, parentID, childID string) error {
	parentIID, err := parseIID(parentID)
	if err != nil {
		return err
	}
	childIID, err := parseIID(childID)
	if err != nil {
		return err
	}

	opts := &gogitlab.CreateIssueLinkOptions{
		TargetProjectID: gogitlab.Ptr(g.projectID),
		TargetIssueIID:  gogitlab.Ptr(strconv.Itoa(childIID)),
		LinkType:        gogitlab.Ptr("relates_to"),
	}
	_, _, err = g.client.IssueLinks.CreateIssueLink(g.projectID, int64(parentIID), opts, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("link issue %d under %d: %w", childIID, parentIID, err)
	}
	return nil
}

// mapIssue converts a go-gitlab Issue to a tracker.Record.
func mapIssue(issue *gogitlab.Issue) *tracker.Record {
	state := tracker.StateOpen
	if issue.State == "closed" {
		state = tracker.StateClosed
	}
	return &tracker.Record{
		RemoteID: strconv.Itoa(int(issue.IID)),
		Number:   int(issue.IID),
		Title:    issue.Title,
		State:    state,
		Body:     issue.Description,
		Labels:   []string(issue.Labels),
	}
}

// mapRelation converts a go-gitlab IssueRelation to a tracker.Record.
func mapRelation(issue *gogitlab.IssueRelation) *tracker.Record {
	state := tracker.StateOpen
	if issue.State == "closed" {
		state = tracker.StateClosed
	}
	return &tracker.Record{
		RemoteID: strconv.Itoa(int(issue.IID)),
		Number:   int(issue.IID),
		Title:    issue.Title,
		State:    state,
		Body:     issue.Description,
		Labels:   []string(issue.Labels),
	}
}

func parseIID(remoteID string) (int, error) {
	iid, err := strconv.Atoi(remoteID)
	if err != nil {
		return 0, fmt.Errorf("invalid gitlab issue id %q: %w", remoteID, err)
	}
	return iid, nil
}
