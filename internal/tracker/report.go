package tracker

import (
	"time"
)

// ChangeSummary is the per-issue line of a report.
type ChangeSummary struct {
	IssueID        string         `json:"issue_id"`
	Title          string         `json:"title"`
	Classification Classification `json:"classification"`
	Action         string         `json:"action"` // pushed | pulled | merged | skipped | conflict | failed
	Reason         string         `json:"reason,omitempty"`
	Fields         []string       `json:"fields,omitempty"`
	TitleDiffers   bool           `json:"title_differs,omitempty"`
}

// Report is the complete outcome of one sync run. Error, when set,
// overrides success; Errors carries per-issue failures that did not
// abort the run.
type Report struct {
	Backend   string    `json:"backend"`
	Repo      string    `json:"repo,omitempty"`
	Strategy  Strategy  `json:"strategy"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	NeedsPush         int `json:"issues_needs_push"`
	NeedsPull         int `json:"issues_needs_pull"`
	UpToDate          int `json:"issues_up_to_date"`
	Pushed            int `json:"issues_pushed"`
	Pulled            int `json:"issues_pulled"`
	ConflictsDetected int `json:"conflicts_detected"`
	ConflictsResolved int `json:"conflicts_resolved"`

	MilestonesPushed int `json:"milestones_pushed,omitempty"`
	MilestonesPulled int `json:"milestones_pulled,omitempty"`

	Changes []ChangeSummary   `json:"changes,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// NewReport starts an empty report for a backend.
func NewReport(backend, repo string, strategy Strategy, dryRun bool) *Report {
	return &Report{
		Backend:   backend,
		Repo:      repo,
		Strategy:  strategy,
		DryRun:    dryRun,
		Timestamp: time.Now().UTC(),
		Errors:    make(map[string]string),
	}
}

// Success reports whether the run completed without a fatal error.
func (r *Report) Success() bool { return r.Error == "" }

// UnresolvedConflicts counts issues left in conflict.
func (r *Report) UnresolvedConflicts() int {
	return r.ConflictsDetected - r.ConflictsResolved
}

// ExitCode maps the report to the CLI exit convention: 0 clean, 1 when
// conflicts stayed unresolved or individual issues failed, 2 fatal.
func (r *Report) ExitCode() int {
	if r.Error != "" {
		return 2
	}
	if r.UnresolvedConflicts() > 0 || len(r.Errors) > 0 {
		return 1
	}
	return 0
}

// IssueFailed records a per-issue failure without aborting the run.
func (r *Report) IssueFailed(issueID string, err error) {
	r.Errors[issueID] = err.Error()
}
