package baseline

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/types"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	pathFor := func(backend string) string {
		return filepath.Join(dir, ".sync-state."+backend+".json")
	}
	return NewStore(pathFor, logger), dir
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s, _ := testStore(t)
	issues, err := s.Load("gh")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	in := map[string]IssueBaseState{
		"ab12": {
			IssueID:   "ab12",
			Title:     "Fix the widget",
			Status:    types.StatusTodo,
			Priority:  types.PriorityHigh,
			Labels:    []string{"bug", "urgent"},
			UpdatedAt: &updated,
		},
	}
	require.NoError(t, s.Save("gh", in))

	out, err := s.Load("gh")
	require.NoError(t, err)
	require.Contains(t, out, "ab12")
	assert.Equal(t, types.StatusTodo, out["ab12"].Status)
	assert.Equal(t, []string{"bug", "urgent"}, out["ab12"].Labels)
	require.NotNil(t, out["ab12"].UpdatedAt)
	assert.True(t, out["ab12"].UpdatedAt.Equal(updated))
}

func TestBackendsAreIndependent(t *testing.T) {
	s, _ := testStore(t)
	require.NoError(t, s.Save("gh", map[string]IssueBaseState{"a": {IssueID: "a"}}))
	require.NoError(t, s.Save("jira", map[string]IssueBaseState{"b": {IssueID: "b"}}))

	gh, err := s.Load("gh")
	require.NoError(t, err)
	assert.Contains(t, gh, "a")
	assert.NotContains(t, gh, "b")
}

func TestUpdateAdvancesSingleIssue(t *testing.T) {
	s, _ := testStore(t)
	require.NoError(t, s.Save("gh", map[string]IssueBaseState{
		"keep": {IssueID: "keep", Status: types.StatusTodo},
	}))

	require.NoError(t, s.Update("gh", "adv", IssueBaseState{IssueID: "adv", Status: types.StatusClosed}))

	out, err := s.Load("gh")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, types.StatusTodo, out["keep"].Status)
	assert.Equal(t, types.StatusClosed, out["adv"].Status)
}

func TestCorruptedTreatedAsAbsent(t *testing.T) {
	s, dir := testStore(t)
	path := filepath.Join(dir, ".sync-state.gh.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	issues, err := s.Load("gh")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestClear(t *testing.T) {
	s, dir := testStore(t)
	require.NoError(t, s.Save("gh", map[string]IssueBaseState{"a": {IssueID: "a"}}))
	require.NoError(t, s.Clear("gh"))

	_, err := os.Stat(filepath.Join(dir, ".sync-state.gh.json"))
	assert.True(t, os.IsNotExist(err))

	// Clearing again is a no-op.
	require.NoError(t, s.Clear("gh"))
}

func TestSnapshotCanonicalizesLabels(t *testing.T) {
	issue, err := types.NewIssue("ab12", "Snap")
	require.NoError(t, err)
	issue.Labels = []string{"urgent", "bug", "bug"}
	issue.Content = "body\n"

	state := Snapshot(issue)
	assert.Equal(t, []string{"bug", "urgent"}, state.Labels)
	assert.Equal(t, "body\n", state.Content)
	assert.Equal(t, "ab12", state.IssueID)
}
