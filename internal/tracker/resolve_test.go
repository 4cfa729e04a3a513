package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/baseline"
	"github.com/roamkit/roam/internal/types"
)

func conflictRecord(t *testing.T, localStatus types.Status, remoteStatus string, localUpdated, remoteUpdated time.Time) ChangeRecord {
	t.Helper()
	issue := mustIssue(t, "L3", "Fix")
	bs := baseline.Snapshot(issue)

	issue.Status = localStatus
	issue.Updated = localUpdated
	remote := &RemoteIssue{Key: "1", ID: "1", Title: "Fix", Status: remoteStatus, Priority: "medium", UpdatedAt: &remoteUpdated}
	return ChangeRecord{
		IssueID:        "L3",
		Title:          issue.Title,
		Classification: BothChanged,
		Baseline:       &bs,
		Local:          issue,
		Remote:         remote,
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"keep-local", "keep-remote", "auto", "manual"} {
		got, err := ParseStrategy(valid)
		require.NoError(t, err)
		assert.Equal(t, Strategy(valid), got)
	}
	got, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyManual, got)
	_, err = ParseStrategy("newest")
	assert.Error(t, err)
}

func TestResolveKeepRemote(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	at := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)
	rec := conflictRecord(t, types.StatusInProgress, "closed", at.Add(-time.Hour), at)

	res := r.Resolve(rec, StrategyKeepRemote)
	require.True(t, res.Resolved())
	assert.Equal(t, "closed", res.Merged["status"])
	assert.Contains(t, res.PullFields, "status")
	assert.Empty(t, res.PushFields)
}

func TestResolveKeepLocal(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	at := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)
	rec := conflictRecord(t, types.StatusInProgress, "closed", at.Add(-time.Hour), at)

	res := r.Resolve(rec, StrategyKeepLocal)
	require.True(t, res.Resolved())
	assert.Equal(t, "in-progress", res.Merged["status"])
	assert.Contains(t, res.PushFields, "status")
}

func TestResolveAutoByTimestamp(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	eleven := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)

	t.Run("remote newer wins", func(t *testing.T) {
		rec := conflictRecord(t, types.StatusInProgress, "closed", eleven.Add(-time.Hour), eleven)
		res := r.Resolve(rec, StrategyAuto)
		require.True(t, res.Resolved())
		assert.Equal(t, "closed", res.Merged["status"])
	})

	t.Run("local newer wins", func(t *testing.T) {
		rec := conflictRecord(t, types.StatusInProgress, "closed", eleven.Add(time.Hour), eleven)
		res := r.Resolve(rec, StrategyAuto)
		require.True(t, res.Resolved())
		assert.Equal(t, "in-progress", res.Merged["status"])
	})

	t.Run("tie keeps local", func(t *testing.T) {
		rec := conflictRecord(t, types.StatusInProgress, "closed", eleven, eleven)
		res := r.Resolve(rec, StrategyAuto)
		require.True(t, res.Resolved())
		assert.Equal(t, "in-progress", res.Merged["status"])
	})

	t.Run("missing remote timestamp keeps local", func(t *testing.T) {
		rec := conflictRecord(t, types.StatusInProgress, "closed", eleven, eleven)
		rec.Remote.UpdatedAt = nil
		res := r.Resolve(rec, StrategyAuto)
		require.True(t, res.Resolved())
		assert.Equal(t, "in-progress", res.Merged["status"])
	})
}

func TestResolveManualLeavesUnresolved(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	at := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)
	rec := conflictRecord(t, types.StatusInProgress, "closed", at, at)

	res := r.Resolve(rec, StrategyManual)
	assert.False(t, res.Resolved())
	assert.Contains(t, res.Unresolved, "status")
	_, present := res.Merged["status"]
	assert.False(t, present)
}

// Fields where only one side moved resolve cleanly regardless of the
// strategy; the strategy decides only true conflicts.
func TestResolveFieldWise(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	at := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)
	rec := conflictRecord(t, types.StatusInProgress, "closed", at, at)
	rec.Local.Assignee = "alice"   // local-only edit
	rec.Remote.Labels = []string{"urgent"} // remote-only edit

	res := r.Resolve(rec, StrategyManual)
	assert.False(t, res.Resolved())
	assert.Equal(t, []string{"status"}, res.Unresolved)
	assert.Equal(t, "alice", res.Merged["assignee"])
	assert.Contains(t, res.PushFields, "assignee")
	assert.Equal(t, []string{"urgent"}, res.Merged["labels"])
	assert.Contains(t, res.PullFields, "labels")
}

func TestResolveRemoteDeleteKeepLocalRepushes(t *testing.T) {
	r := NewResolver(testComparator(t), testLogger())
	issue := mustIssue(t, "L6", "Gone")
	bs := baseline.Snapshot(issue)
	issue.Status = types.StatusInProgress
	rec := ChangeRecord{
		IssueID:        "L6",
		Classification: BothChanged,
		Reason:         "remote deleted vs local edit",
		Baseline:       &bs,
		Local:          issue,
		LocalChanges:   map[string]FieldChange{"status": {From: "todo", To: "in-progress"}},
	}

	res := r.Resolve(rec, StrategyKeepLocal)
	require.True(t, res.Resolved())
	assert.Equal(t, "in-progress", res.Merged["status"])
	assert.NotEmpty(t, res.PushFields)

	manual := r.Resolve(rec, StrategyManual)
	assert.False(t, manual.Resolved())
	assert.Equal(t, []string{"status"}, manual.Unresolved)
}
