package github

import (
	"strconv"
	"strings"

	"github.com/roamkit/roam/internal/tracker"
	"github.com/roamkit/roam/internal/types"
)

// Scoped label prefixes carrying fields GitHub has no native slot for.
const (
	statusScope   = "status"
	priorityScope = "priority"
	typeScope     = "type"
)

// ParseScopedLabel splits "priority:high" or "priority/high" into
// scope and value. Unscoped labels return scope "".
func ParseScopedLabel(label string) (scope, value string) {
	for _, sep := range []string{":", "/"} {
		if parts := strings.SplitN(label, sep, 2); len(parts) == 2 {
			return strings.ToLower(parts[0]), parts[1]
		}
	}
	return "", label
}

// splitLabels separates scoped field labels from the plain labels that
// sync as the issue's label set.
func splitLabels(names []string) (plain []string, scoped map[string]string) {
	scoped = make(map[string]string)
	for _, name := range names {
		scope, value := ParseScopedLabel(name)
		switch scope {
		case statusScope, priorityScope, typeScope:
			scoped[scope] = value
		default:
			plain = append(plain, name)
		}
	}
	return plain, scoped
}

// ToRemote converts a GitHub issue to the backend-neutral record. The
// remote key and id are both the issue number in string form. Status
// resolution: a closed issue is "closed" regardless of labels; an open
// one takes its status label, defaulting to "todo".
func ToRemote(gh Issue) tracker.RemoteIssue {
	plain, scoped := splitLabels(LabelNames(gh.Labels))

	status := scoped[statusScope]
	if gh.State == "closed" {
		status = "closed"
	} else if status == "" {
		status = "todo"
	}

	assignee := ""
	if gh.Assignee != nil {
		assignee = gh.Assignee.Login
	} else if len(gh.Assignees) > 0 {
		assignee = gh.Assignees[0].Login
	}

	milestone := ""
	if gh.Milestone != nil {
		milestone = gh.Milestone.Title
	}

	number := strconv.Itoa(gh.Number)
	return tracker.RemoteIssue{
		Key:       number,
		ID:        number,
		Title:     gh.Title,
		Content:   gh.Body,
		Status:    status,
		Priority:  scoped[priorityScope],
		Assignee:  assignee,
		Milestone: milestone,
		Labels:    plain,
		UpdatedAt: gh.UpdatedAt,
		URL:       gh.HTMLURL,
	}
}

// PushFields builds the create/update payload for a local issue.
// Status and priority travel as scoped labels; the open/closed state
// derives from the status.
func PushFields(issue *types.Issue) map[string]any {
	labels := append([]string(nil), types.CanonicalLabels(issue.Labels)...)
	labels = append(labels, priorityScope+":"+string(issue.Priority))
	labels = append(labels, typeScope+":"+string(issue.Type))

	state := "open"
	switch issue.Status {
	case types.StatusClosed, types.StatusArchived:
		state = "closed"
	default:
		labels = append(labels, statusScope+":"+string(issue.Status))
	}

	fields := map[string]any{
		"title":  issue.Title,
		"body":   issue.Content,
		"state":  state,
		"labels": labels,
	}
	if issue.Assignee != "" {
		fields["assignees"] = []string{issue.Assignee}
	}
	return fields
}

// ToRemoteMilestone converts a GitHub milestone payload.
func ToRemoteMilestone(gh Milestone) tracker.RemoteMilestone {
	return tracker.RemoteMilestone{
		Key:         gh.Title,
		ID:          strconv.Itoa(gh.Number),
		Title:       gh.Title,
		Description: gh.Description,
		State:       gh.State,
		DueDate:     gh.DueOn,
		UpdatedAt:   gh.UpdatedAt,
	}
}

// MilestonePushFields builds the create payload for a local milestone.
func MilestonePushFields(m *types.Milestone) map[string]any {
	fields := map[string]any{
		"title": m.Name,
		"state": "open",
	}
	if m.Status == types.MilestoneClosed {
		fields["state"] = "closed"
	}
	if m.Description != "" {
		fields["description"] = m.Description
	}
	if m.DueDate != nil {
		fields["due_on"] = m.DueDate.UTC()
	}
	return fields
}
