// Package jira implements the tracker provider for Jira Cloud.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	v2 "github.com/ctreminiom/go-atlassian/v2/jira/v2"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/randalmurphal/tasksync/internal/tracker"
)

// Compile-time interface check.
var _ tracker.Provider = (*JiraProvider)(nil)

func init() {
	tracker.RegisterProvider(tracker.ProviderJira, newProvider)
}

// searchFields are the Jira fields requested in search results. Keeping
// this explicit avoids fetching unnecessary data.
var searchFields = []string{
	"summary",
	"description",
	"status",
	"labels",
}

// JiraProvider implements tracker.Provider against the Jira Cloud v2 API.
// The v2 API accepts plain-text descriptions, which keeps the structured
// body round-trippable without ADF conversion.
type JiraProvider struct {
	client     *v2.Client
	projectKey string
}

// newProvider creates a new JiraProvider from configuration.
func newProvider(cfg tracker.Config) (tracker.Provider, error) {
	token, err := tracker.ResolveToken(cfg, "JIRA_API_TOKEN")
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira tracker requires base_url (e.g. https://acme.atlassian.net)")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("jira tracker requires email for basic auth")
	}
	if cfg.ProjectKey == "" {
		return nil, fmt.Errorf("jira tracker requires project_key")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client, err := v2.New(&http.Client{Timeout: 30 * time.Second}, baseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(cfg.Email, token)
	client.Auth.SetUserAgent("tasksync/1.0")

	return &JiraProvider{
		client:     client,
		projectKey: cfg.ProjectKey,
	}, nil
}

// Name returns the provider type.
func (j *JiraProvider) Name() tracker.ProviderType {
	return tracker.ProviderJira
}

// CheckAuth verifies the client can authenticate with Jira.
func (j *JiraProvider) CheckAuth(ctx context.Context) error {
	_, resp, err := j.client.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("jira auth check failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("jira auth check failed: %w", err)
	}
	return nil
}

// CreateItem creates an issue in the configured project.
func (j *JiraProvider) CreateItem(ctx context.Context, title, body string, labels []string) (*tracker.Record, error) {
	payload := &models.IssueSchemeV2{
		Fields: &models.IssueFieldsSchemeV2{
			Summary:     title,
			Description: body,
			Project:     &models.ProjectScheme{Key: j.projectKey},
			IssueType:   &models.IssueTypeScheme{Name: "Task"},
			Labels:      sanitizeLabels(labels),
		},
	}

	created, resp, err := j.client.Issue.Create(ctx, payload, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("create issue (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("create issue: %w", err)
	}

	return &tracker.Record{
		RemoteID: created.Key,
		Number:   keyNumber(created.Key),
		Title:    title,
		State:    tracker.StateOpen,
		Body:     body,
		Labels:   sanitizeLabels(labels),
	}, nil
}

// UpdateItem rewrites the selected fields of an issue.
func (j *JiraProvider) UpdateItem(ctx context.Context, remoteID string, opts tracker.UpdateOptions) error {
	fields := &models.IssueFieldsSchemeV2{}
	if opts.Body != nil {
		fields.Description = *opts.Body
	}
	if opts.Labels != nil {
		fields.Labels = sanitizeLabels(*opts.Labels)
	}

	payload := &models.IssueSchemeV2{Fields: fields}
	resp, err := j.client.Issue.Update(ctx, remoteID, false, payload, nil, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("update issue %s (status %d): %w", remoteID, resp.StatusCode, err)
		}
		return fmt.Errorf("update issue %s: %w", remoteID, err)
	}
	return nil
}

// FindItemByTitleAndMarker locates the issue whose summary matches exactly
// and whose description contains the deployment marker.
func (j *JiraProvider) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*tracker.Record, error) {
	records, err := j.ListItems(ctx, marker)
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

// ListItems returns every issue whose description contains the marker,
// fetching all JQL result pages.
func (j *JiraProvider) ListItems(ctx context.Context, marker string) ([]tracker.Record, error) {
	jql := fmt.Sprintf("project = %s AND description ~ %q ORDER BY created ASC", j.projectKey, marker)

	var records []tracker.Record
	startAt := 0
	for {
		result, resp, err := j.client.Issue.Search.Get(ctx, jql, searchFields, nil, startAt, 50, "")
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("jira search (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("jira search: %w", err)
		}

		for _, issue := range result.Issues {
			rec := convertIssue(issue)
			// The ~ operator does token matching; re-check the raw body.
			if !strings.Contains(rec.Body, marker) {
				continue
			}
			records = append(records, rec)
		}

		startAt += len(result.Issues)
		if len(result.Issues) == 0 || startAt >= result.Total {
			break
		}
	}
	return records, nil
}

// ListChildItems returns issues linked to the parent. Plain issue links
// stand in for parent-child hierarchy.
func (j *JiraProvider) ListChildItems(ctx context.Context, parentID string) ([]tracker.Record, error) {
	issue, resp, err := j.client.Issue.Get(ctx, parentID, []string{"issuelinks"}, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("get issue %s (status %d): %w", parentID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("get issue %s: %w", parentID, err)
	}
	if issue.Fields == nil {
		return nil, nil
	}

	var records []tracker.Record
	for _, link := range issue.Fields.IssueLinks {
		if link == nil || link.InwardIssue == nil {
			continue
		}
		linked, _, err := j.client.Issue.Get(ctx, link.InwardIssue.Key, searchFields, nil)
		if err != nil {
			continue
		}
		records = append(records, convertIssue(linked))
	}
	return records, nil
}

// LinkChildItem links the child issue to the parent with a Relates link.
func (j *JiraProvider) LinkChildItem(ctx context.Context, parentID, childID string) error {
	payload := &models.LinkPayloadSchemeV2{
		Type:         &models.LinkTypeScheme{Name: "Relates"},
		InwardIssue:  &models.LinkedIssueScheme{Key: childID},
		OutwardIssue: &models.LinkedIssueScheme{Key: parentID},
	}
	resp, err := j.client.Issue.Link.Create(ctx, payload)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("link %s under %s (status %d): %w", childID, parentID, resp.StatusCode, err)
		}
		return fmt.Errorf("link %s under %s: %w", childID, parentID, err)
	}
	return nil
}

// convertIssue maps a go-atlassian issue to a tracker.Record. An issue is
// closed when its status category is done.
func convertIssue(issue *models.IssueSchemeV2) tracker.Record {
	rec := tracker.Record{State: tracker.StateOpen}
	if issue == nil {
		return rec
	}
	rec.RemoteID = issue.Key
	rec.Number = keyNumber(issue.Key)

	if issue.Fields == nil {
		return rec
	}
	rec.Title = issue.Fields.Summary
	rec.Body = issue.Fields.Description
	rec.Labels = issue.Fields.Labels
	if issue.Fields.Status != nil && issue.Fields.Status.StatusCategory != nil &&
		issue.Fields.Status.StatusCategory.Key == "done" {
		rec.State = tracker.StateClosed
	}
	return rec
}

// sanitizeLabels makes labels Jira-safe: Jira labels must not contain
// whitespace.
func sanitizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, strings.ReplaceAll(l, " ", "-"))
	}
	return out
}

// keyNumber extracts the numeric part of a Jira key like "SYNC-42".
func keyNumber(key string) int {
	idx := strings.LastIndex(key, "-")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(key[idx+1:])
	return n
}
