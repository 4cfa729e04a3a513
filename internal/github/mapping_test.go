package github

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/types"
)

func TestParseScopedLabel(t *testing.T) {
	tests := []struct {
		label, scope, value string
	}{
		{"priority:high", "priority", "high"},
		{"priority/high", "priority", "high"},
		{"Status:in-progress", "status", "in-progress"},
		{"bug", "", "bug"},
	}
	for _, tt := range tests {
		scope, value := ParseScopedLabel(tt.label)
		assert.Equal(t, tt.scope, scope, tt.label)
		assert.Equal(t, tt.value, value, tt.label)
	}
}

func TestToRemote(t *testing.T) {
	updated := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	gh := Issue{
		Number:    42,
		Title:     "Fix the widget",
		Body:      "Details.",
		State:     "open",
		UpdatedAt: &updated,
		Labels: []Label{
			{Name: "bug"},
			{Name: "priority:high"},
			{Name: "status:in-progress"},
			{Name: "type:bug"},
		},
		Assignee:  &User{Login: "alice"},
		Milestone: &Milestone{Title: "V1"},
		HTMLURL:   "https://github.com/acme/roadmap/issues/42",
	}

	ri := ToRemote(gh)
	assert.Equal(t, "42", ri.Key)
	assert.Equal(t, "42", ri.ID)
	assert.Equal(t, "in-progress", ri.Status)
	assert.Equal(t, "high", ri.Priority)
	assert.Equal(t, []string{"bug"}, ri.Labels)
	assert.Equal(t, "alice", ri.Assignee)
	assert.Equal(t, "V1", ri.Milestone)
	require.NotNil(t, ri.UpdatedAt)
	assert.True(t, ri.UpdatedAt.Equal(updated))
}

func TestToRemoteClosedOverridesStatusLabel(t *testing.T) {
	gh := Issue{Number: 7, Title: "Done", State: "closed", Labels: []Label{{Name: "status:in-progress"}}}
	assert.Equal(t, "closed", ToRemote(gh).Status)
}

func TestToRemoteOpenWithoutStatusLabelIsTodo(t *testing.T) {
	gh := Issue{Number: 7, Title: "Plain", State: "open"}
	assert.Equal(t, "todo", ToRemote(gh).Status)
}

func TestPushFields(t *testing.T) {
	issue, err := types.NewIssue("ab12", "Fix the widget")
	require.NoError(t, err)
	issue.Status = types.StatusInProgress
	issue.Priority = types.PriorityHigh
	issue.Type = types.TypeBug
	issue.Labels = []string{"urgent", "bug"}
	issue.Content = "Details.\n"
	issue.Assignee = "alice"

	fields := PushFields(issue)
	assert.Equal(t, "Fix the widget", fields["title"])
	assert.Equal(t, "Details.\n", fields["body"])
	assert.Equal(t, "open", fields["state"])
	assert.Equal(t, []string{"alice"}, fields["assignees"])
	assert.ElementsMatch(t, []string{"bug", "urgent", "priority:high", "type:bug", "status:in-progress"}, fields["labels"])
}

func TestPushFieldsClosedIssue(t *testing.T) {
	issue, err := types.NewIssue("ab12", "Done")
	require.NoError(t, err)
	issue.Status = types.StatusClosed

	fields := PushFields(issue)
	assert.Equal(t, "closed", fields["state"])
	// No status scoped label when the state already says closed.
	assert.NotContains(t, fields["labels"], "status:closed")
}

func TestMilestoneMapping(t *testing.T) {
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	gh := Milestone{Number: 5, Title: "V1", Description: "Launch", State: "open", DueOn: &due}

	rm := ToRemoteMilestone(gh)
	assert.Equal(t, "V1", rm.Key)
	assert.Equal(t, "5", rm.ID)
	assert.Equal(t, "open", rm.State)

	m := &types.Milestone{Name: "V1", Status: types.MilestoneClosed, DueDate: &due, Description: "Launch"}
	fields := MilestonePushFields(m)
	assert.Equal(t, "V1", fields["title"])
	assert.Equal(t, "closed", fields["state"])
	assert.Equal(t, "Launch", fields["description"])
}
