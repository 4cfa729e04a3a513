package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := New(t.TempDir(), lockfile.NewManager(logger), logger)
	require.NoError(t, s.Init())
	return s
}

func newIssue(t *testing.T, id, title string) *types.Issue {
	t.Helper()
	issue, err := types.NewIssue(id, title)
	require.NoError(t, err)
	return issue
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "v1.0-launch", Slug("V1.0 Launch"))
	assert.Equal(t, "a-b", Slug("a/b"))
	assert.Equal(t, "unnamed", Slug("???"))
}

func TestSaveLoadIssue(t *testing.T) {
	s := testStore(t)
	issue := newIssue(t, "ab12", "Fix the widget")
	issue.Labels = []string{"bug"}
	issue.Content = "Details about the widget.\n"
	require.NoError(t, s.SaveIssue(issue))

	got, err := s.LoadIssue("ab12")
	require.NoError(t, err)
	assert.Equal(t, "Fix the widget", got.Title)
	assert.Equal(t, []string{"bug"}, got.Labels)
	assert.Equal(t, "Details about the widget.\n", got.Content)
	assert.Equal(t, time.UTC, got.Created.Location())
}

func TestIssueGroupedByMilestone(t *testing.T) {
	s := testStore(t)
	issue := newIssue(t, "cd34", "Grouped")
	issue.Milestone = "V1 Launch"
	require.NoError(t, s.SaveIssue(issue))

	_, err := os.Stat(filepath.Join(s.Paths().IssuesDir(), "v1-launch", "cd34.md"))
	require.NoError(t, err)

	// Changing the milestone keeps the existing file location.
	_, err = s.UpdateIssue("cd34", func(i *types.Issue) error {
		i.Milestone = "V2"
		return nil
	})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Paths().IssuesDir(), "v1-launch", "cd34.md"))
	require.NoError(t, err)
}

func TestLoadIssueNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadIssue("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadIssuesSkipsInvalid(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveIssue(newIssue(t, "good1", "Good")))

	// A malformed file and one with an unknown enum value.
	bad := filepath.Join(s.Paths().IssuesDir(), "bad1.md")
	require.NoError(t, os.WriteFile(bad, []byte("no frontmatter"), 0o644))
	unknown := filepath.Join(s.Paths().IssuesDir(), "bad2.md")
	require.NoError(t, os.WriteFile(unknown, []byte("---\nid: bad2\ntitle: T\nstatus: wontfix\npriority: low\nissue_type: bug\ncreated: 2026-01-01T00:00:00Z\nupdated: 2026-01-01T00:00:00Z\n---\n"), 0o644))

	issues, invalid, err := s.LoadIssues(false)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Contains(t, issues, "good1")
	require.Len(t, invalid, 2)

	// The unknown-enum message lists the valid values.
	var enumReason string
	for _, inv := range invalid {
		if filepath.Base(inv.Path) == "bad2.md" {
			enumReason = inv.Reason
		}
	}
	assert.Contains(t, enumReason, "todo")
	assert.Contains(t, enumReason, "archived")
}

func TestLoadIssuesArchivedFilter(t *testing.T) {
	s := testStore(t)
	live := newIssue(t, "live1", "Live")
	require.NoError(t, s.SaveIssue(live))
	require.NoError(t, s.SaveIssue(newIssue(t, "old1", "Old")))
	require.NoError(t, s.ArchiveIssue("old1"))

	issues, _, err := s.LoadIssues(false)
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	issues, _, err = s.LoadIssues(true)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, types.StatusArchived, issues["old1"].Status)
}

func TestUpdateIssue(t *testing.T) {
	s := testStore(t)
	issue := newIssue(t, "up1", "Before")
	require.NoError(t, s.SaveIssue(issue))
	before := issue.Updated

	updated, err := s.UpdateIssue("up1", func(i *types.Issue) error {
		i.Status = types.StatusInProgress
		i.SetRemoteID("gh", "42")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, updated.Status)
	assert.Equal(t, "42", updated.RemoteID("gh"))
	assert.True(t, updated.Updated.After(before) || updated.Updated.Equal(before))

	got, err := s.LoadIssue("up1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)
	assert.Equal(t, "42", got.RemoteID("gh"))
}

func TestUpdateIssueMutatorFailureLeavesFile(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveIssue(newIssue(t, "mf1", "Original")))

	_, err := s.UpdateIssue("mf1", func(i *types.Issue) error {
		i.Title = "Changed"
		return assert.AnError
	})
	require.Error(t, err)

	got, err := s.LoadIssue("mf1")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
}

func TestSaveLoadMilestone(t *testing.T) {
	s := testStore(t)
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m := &types.Milestone{
		Name:    "V1 Launch",
		Status:  types.MilestoneOpen,
		DueDate: &due,
		Created: time.Now().UTC(),
		Updated: time.Now().UTC(),
		Content: "Launch scope.\n",
	}
	require.NoError(t, s.SaveMilestone(m))

	got, err := s.LoadMilestone("V1 Launch")
	require.NoError(t, err)
	assert.Equal(t, "V1 Launch", got.Name)
	assert.Equal(t, types.MilestoneOpen, got.Status)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))

	all, invalid, err := s.LoadMilestones()
	require.NoError(t, err)
	assert.Empty(t, invalid)
	assert.Len(t, all, 1)
}

func TestUpdateMilestone(t *testing.T) {
	s := testStore(t)
	m := &types.Milestone{Name: "V2", Status: types.MilestoneOpen, Created: time.Now().UTC(), Updated: time.Now().UTC()}
	require.NoError(t, s.SaveMilestone(m))

	updated, err := s.UpdateMilestone("V2", func(m *types.Milestone) error {
		m.Status = types.MilestoneClosed
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.MilestoneClosed, updated.Status)
}
