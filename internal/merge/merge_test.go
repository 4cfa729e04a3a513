package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFieldTable(t *testing.T) {
	tests := []struct {
		name               string
		base, local, remote any
		want               any
		status             FieldStatus
	}{
		{"all equal", "todo", "todo", "todo", "todo", Clean},
		{"only local changed", "todo", "closed", "todo", "closed", Clean},
		{"only remote changed", "todo", "todo", "closed", "closed", Clean},
		{"both changed same", "todo", "closed", "closed", "closed", Clean},
		{"both changed different", "todo", "closed", "blocked", nil, Conflict},
		{"set vs never set", nil, "x", nil, "x", Clean},
		{"nil and empty string differ", nil, "", nil, "", Clean},
		{"nil vs empty conflict", "a", nil, "", nil, Conflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, status, _ := MergeField("status", tt.base, tt.local, tt.remote)
			assert.Equal(t, tt.status, status)
			if status == Clean {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// Conflict holds exactly when local and remote both diverged from base
// to different values, for every combination of three values.
func TestMergeFieldConflictCondition(t *testing.T) {
	values := []any{nil, "", "a", "b"}
	for _, base := range values {
		for _, local := range values {
			for _, remote := range values {
				name := fmt.Sprintf("%v/%v/%v", base, local, remote)
				_, status, _ := MergeField("f", base, local, remote)
				expect := !valuesEqual(local, base) && !valuesEqual(remote, base) && !valuesEqual(local, remote)
				assert.Equal(t, expect, status == Conflict, name)
			}
		}
	}
}

func TestMergeFieldLabelsCanonical(t *testing.T) {
	got, status, _ := MergeField("labels",
		[]string{"bug", "urgent"},
		[]string{"urgent", "bug"},
		[]string{"bug", "urgent", "urgent"})
	assert.Equal(t, Clean, status)
	assert.Equal(t, []string{"urgent", "bug"}, got)
}

func TestMergeIssueOmitsConflictedFields(t *testing.T) {
	base := map[string]any{"status": "todo", "assignee": "alice"}
	local := map[string]any{"status": "in-progress", "assignee": "alice"}
	remote := map[string]any{"status": "closed", "assignee": "bob"}

	merged, conflicted := MergeIssue(base, local, remote)
	assert.ElementsMatch(t, []string{"status"}, conflicted)
	assert.Equal(t, "bob", merged["assignee"])
	_, present := merged["status"]
	assert.False(t, present)
}

func TestMergeIssueFieldAbsentOnOneSide(t *testing.T) {
	base := map[string]any{"status": "todo"}
	local := map[string]any{"status": "todo", "milestone": "v1"}
	remote := map[string]any{"status": "todo"}

	merged, conflicted := MergeIssue(base, local, remote)
	require.Empty(t, conflicted)
	assert.Equal(t, "v1", merged["milestone"])
}

func TestMergeIssuesRemoteDeleteUnmodified(t *testing.T) {
	bases := map[string]map[string]any{"L6": {"status": "todo"}}
	locals := map[string]map[string]any{"L6": {"status": "todo"}}
	remotes := map[string]map[string]any{}

	results, deleted := MergeIssues(bases, locals, remotes)
	assert.NotContains(t, results, "L6")
	assert.Equal(t, []string{"L6"}, deleted)
}

func TestMergeIssuesRemoteDeleteVsLocalEdit(t *testing.T) {
	bases := map[string]map[string]any{"L6": {"status": "todo"}}
	locals := map[string]map[string]any{"L6": {"status": "in-progress"}}
	remotes := map[string]map[string]any{}

	results, deleted := MergeIssues(bases, locals, remotes)
	assert.Empty(t, deleted)
	require.Contains(t, results, "L6")
	assert.Equal(t, RemoteDeleteConflict, results["L6"].Reason)
	assert.ElementsMatch(t, []string{"status"}, results["L6"].Conflicted)
}

func TestMergeIssuesNeverSyncedLocalSkipped(t *testing.T) {
	locals := map[string]map[string]any{"new1": {"status": "todo"}}
	results, deleted := MergeIssues(nil, locals, nil)
	assert.Empty(t, results)
	assert.Empty(t, deleted)
}

func TestMergeIssuesRemoteOnly(t *testing.T) {
	remotes := map[string]map[string]any{"7": {"status": "in-progress", "title": "Bug"}}
	results, _ := MergeIssues(nil, nil, remotes)
	require.Contains(t, results, "7")
	assert.Equal(t, "in-progress", results["7"].Merged["status"])
	assert.Empty(t, results["7"].Conflicted)
}
