// Package types defines core data structures for the roam roadmap tracker.
package types

import (
	"fmt"
	"slices"
	"time"
)

// Field length limits enforced by Validate.
const (
	MaxTitleLen = 200
	MaxLabelLen = 50
)

// Issue represents a trackable work item, persisted as a
// frontmatter+markdown file under .roadmap/issues/.
type Issue struct {
	ID       string    `yaml:"id" json:"id"`
	Title    string    `yaml:"title" json:"title"`
	Headline string    `yaml:"headline,omitempty" json:"headline,omitempty"`
	Status   Status    `yaml:"status" json:"status"`
	Priority Priority  `yaml:"priority" json:"priority"`
	Type     IssueType `yaml:"issue_type" json:"issue_type"`
	Assignee string    `yaml:"assignee,omitempty" json:"assignee,omitempty"`

	// Milestone is a logical foreign key by name; the store does not
	// enforce it.
	Milestone string   `yaml:"milestone,omitempty" json:"milestone,omitempty"`
	Labels    []string `yaml:"labels,omitempty" json:"labels,omitempty"`

	EstimatedHours     *float64 `yaml:"estimated_hours,omitempty" json:"estimated_hours,omitempty"`
	ProgressPercentage *int     `yaml:"progress_percentage,omitempty" json:"progress_percentage,omitempty"`

	Created         time.Time  `yaml:"created" json:"created"`
	Updated         time.Time  `yaml:"updated" json:"updated"`
	DueDate         *time.Time `yaml:"due_date,omitempty" json:"due_date,omitempty"`
	ActualStartDate *time.Time `yaml:"actual_start_date,omitempty" json:"actual_start_date,omitempty"`
	ActualEndDate   *time.Time `yaml:"actual_end_date,omitempty" json:"actual_end_date,omitempty"`

	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Blocks    []string `yaml:"blocks,omitempty" json:"blocks,omitempty"`

	// Comments are local-only; they are never synchronized.
	Comments []Comment `yaml:"comments,omitempty" json:"comments,omitempty"`

	// RemoteIDs maps backend name to the backend-assigned id in string
	// form ("42", "gh-42", ...). This is the durable record of
	// cross-system linkage; the links index is the fast path.
	RemoteIDs map[string]string `yaml:"remote_ids,omitempty" json:"remote_ids,omitempty"`

	// SyncMetadata holds per-backend bookkeeping stamped after each
	// successful sync of this issue.
	SyncMetadata map[string]SyncMetadata `yaml:"sync_metadata,omitempty" json:"sync_metadata,omitempty"`

	// Content is the markdown body below the frontmatter block.
	Content string `yaml:"-" json:"content,omitempty"`
}

// Comment is a local-only note attached to an issue.
type Comment struct {
	Author  string    `yaml:"author" json:"author"`
	Text    string    `yaml:"text" json:"text"`
	Created time.Time `yaml:"created" json:"created"`
}

// SyncMetadata records when an issue was last reconciled with a backend.
type SyncMetadata struct {
	LastSynced    time.Time         `yaml:"last_synced" json:"last_synced"`
	RemoteUpdated time.Time         `yaml:"remote_updated,omitempty" json:"remote_updated,omitempty"`
	Extra         map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// NewIssue constructs an issue with required fields validated and
// timestamps initialized to now (UTC).
func NewIssue(id, title string) (*Issue, error) {
	now := time.Now().UTC()
	issue := &Issue{
		ID:       id,
		Title:    title,
		Status:   StatusTodo,
		Priority: PriorityMedium,
		Type:     TypeOther,
		Created:  now,
		Updated:  now,
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	return issue, nil
}

// Validate checks the issue's field values against the closed enum sets
// and length limits.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLen, len(i.Title))
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status %q (valid: %v)", i.Status, ValidStatuses())
	}
	if !i.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q (valid: %v)", i.Priority, ValidPriorities())
	}
	if !i.Type.IsValid() {
		return fmt.Errorf("invalid issue type %q (valid: %v)", i.Type, ValidIssueTypes())
	}
	for _, l := range i.Labels {
		if len(l) > MaxLabelLen {
			return fmt.Errorf("label %q exceeds %d characters", l, MaxLabelLen)
		}
	}
	if i.ProgressPercentage != nil && (*i.ProgressPercentage < 0 || *i.ProgressPercentage > 100) {
		return fmt.Errorf("progress_percentage must be between 0 and 100 (got %d)", *i.ProgressPercentage)
	}
	return nil
}

// RemoteID returns the remote id recorded for the given backend, or ""
// when the issue is not linked to it.
func (i *Issue) RemoteID(backend string) string {
	if i.RemoteIDs == nil {
		return ""
	}
	return i.RemoteIDs[backend]
}

// SetRemoteID records the remote id for a backend, allocating the map
// on first use.
func (i *Issue) SetRemoteID(backend, remoteID string) {
	if i.RemoteIDs == nil {
		i.RemoteIDs = make(map[string]string)
	}
	i.RemoteIDs[backend] = remoteID
}

// StampSync records a successful sync against a backend.
func (i *Issue) StampSync(backend string, lastSynced, remoteUpdated time.Time) {
	if i.SyncMetadata == nil {
		i.SyncMetadata = make(map[string]SyncMetadata)
	}
	meta := i.SyncMetadata[backend]
	meta.LastSynced = lastSynced.UTC()
	if !remoteUpdated.IsZero() {
		meta.RemoteUpdated = remoteUpdated.UTC()
	}
	i.SyncMetadata[backend] = meta
}

// MigrateTimestampsUTC converts all timestamps to UTC. Files written by
// older versions may carry zone offsets or zone-less local times; load
// paths call this so comparisons work in one canonical zone.
func (i *Issue) MigrateTimestampsUTC() {
	i.Created = i.Created.UTC()
	i.Updated = i.Updated.UTC()
	for _, t := range []**time.Time{&i.DueDate, &i.ActualStartDate, &i.ActualEndDate} {
		if *t != nil {
			utc := (**t).UTC()
			*t = &utc
		}
	}
	for idx := range i.Comments {
		i.Comments[idx].Created = i.Comments[idx].Created.UTC()
	}
}

// CanonicalLabels returns the labels as a sorted, duplicate-free slice.
// This is the form used for sync equality and for baselines, so that
// ["a","b"] and ["b","a","a"] compare equal.
func CanonicalLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := slices.Clone(labels)
	slices.Sort(out)
	return slices.Compact(out)
}

// LabelsEqual compares two label sets in canonical form.
func LabelsEqual(a, b []string) bool {
	return slices.Equal(CanonicalLabels(a), CanonicalLabels(b))
}

// Milestone represents a named grouping of issues, persisted as a
// frontmatter+markdown file under .roadmap/milestones/.
type Milestone struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Status      MilestoneStatus `yaml:"status" json:"status"`
	DueDate     *time.Time      `yaml:"due_date,omitempty" json:"due_date,omitempty"`
	Created     time.Time       `yaml:"created" json:"created"`
	Updated     time.Time       `yaml:"updated" json:"updated"`

	RemoteIDs    map[string]string       `yaml:"remote_ids,omitempty" json:"remote_ids,omitempty"`
	SyncMetadata map[string]SyncMetadata `yaml:"sync_metadata,omitempty" json:"sync_metadata,omitempty"`

	// Content is the markdown body below the frontmatter block.
	Content string `yaml:"-" json:"content,omitempty"`
}

// Validate checks the milestone's required fields.
func (m *Milestone) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(m.Name) > MaxTitleLen {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxTitleLen, len(m.Name))
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid milestone status %q (valid: open, closed)", m.Status)
	}
	return nil
}

// RemoteID returns the remote id recorded for the given backend.
func (m *Milestone) RemoteID(backend string) string {
	if m.RemoteIDs == nil {
		return ""
	}
	return m.RemoteIDs[backend]
}

// SetRemoteID records the remote id for a backend.
func (m *Milestone) SetRemoteID(backend, remoteID string) {
	if m.RemoteIDs == nil {
		m.RemoteIDs = make(map[string]string)
	}
	m.RemoteIDs[backend] = remoteID
}

// StampSync records a successful sync against a backend.
func (m *Milestone) StampSync(backend string, lastSynced, remoteUpdated time.Time) {
	if m.SyncMetadata == nil {
		m.SyncMetadata = make(map[string]SyncMetadata)
	}
	meta := m.SyncMetadata[backend]
	meta.LastSynced = lastSynced.UTC()
	if !remoteUpdated.IsZero() {
		meta.RemoteUpdated = remoteUpdated.UTC()
	}
	m.SyncMetadata[backend] = meta
}

// MigrateTimestampsUTC converts all milestone timestamps to UTC.
func (m *Milestone) MigrateTimestampsUTC() {
	m.Created = m.Created.UTC()
	m.Updated = m.Updated.UTC()
	if m.DueDate != nil {
		utc := m.DueDate.UTC()
		m.DueDate = &utc
	}
}
