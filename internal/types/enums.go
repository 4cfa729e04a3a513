package types

import "strings"

// Status is the workflow state of an issue.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusClosed     Status = "closed"
	StatusArchived   Status = "archived"
)

// validStatuses is the closed set of statuses the store accepts.
var validStatuses = map[Status]bool{
	StatusTodo:       true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusReview:     true,
	StatusClosed:     true,
	StatusArchived:   true,
}

// statusSynonyms collapses common remote-tracker spellings onto the
// canonical enum values. Keys are lowercase.
var statusSynonyms = map[string]Status{
	"done":        StatusClosed,
	"completed":   StatusClosed,
	"resolved":    StatusClosed,
	"in progress": StatusInProgress,
	"in_progress": StatusInProgress,
	"active":      StatusInProgress,
	"started":     StatusInProgress,
	"on_hold":     StatusBlocked,
	"on hold":     StatusBlocked,
	"paused":      StatusBlocked,
	"open":        StatusTodo,
}

// IsValid reports whether s is one of the closed set of statuses.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// ValidStatuses returns the full list of accepted status values, for
// error messages.
func ValidStatuses() []string {
	return []string{
		string(StatusTodo), string(StatusInProgress), string(StatusBlocked),
		string(StatusReview), string(StatusClosed), string(StatusArchived),
	}
}

// NormalizeStatus maps a raw string (typically from a remote tracker)
// to a canonical Status. Matching is tried exact, then lowercased, then
// through the synonym table. The second return is false when nothing
// matched; callers decide the fallback policy (remotes default to todo,
// local files treat it as a validation error).
//
// Normalization is idempotent: NormalizeStatus of a canonical value
// returns that value.
func NormalizeStatus(raw string) (Status, bool) {
	if validStatuses[Status(raw)] {
		return Status(raw), true
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if validStatuses[Status(lower)] {
		return Status(lower), true
	}
	if s, ok := statusSynonyms[lower]; ok {
		return s, true
	}
	return "", false
}

// Priority is the urgency bucket of an issue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var validPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

// prioritySynonyms maps shorthand priority labels (P0..P3 style) and
// alternate spellings to canonical values. Keys are lowercase.
var prioritySynonyms = map[string]Priority{
	"p0":     PriorityCritical,
	"p1":     PriorityHigh,
	"p2":     PriorityMedium,
	"p3":     PriorityLow,
	"urgent": PriorityCritical,
	"normal": PriorityMedium,
	"minor":  PriorityLow,
}

// IsValid reports whether p is one of the closed set of priorities.
func (p Priority) IsValid() bool {
	return validPriorities[p]
}

// ValidPriorities returns the full list of accepted priority values.
func ValidPriorities() []string {
	return []string{
		string(PriorityLow), string(PriorityMedium),
		string(PriorityHigh), string(PriorityCritical),
	}
}

// NormalizePriority maps a raw string to a canonical Priority using the
// same exact → lowercase → synonym cascade as NormalizeStatus.
func NormalizePriority(raw string) (Priority, bool) {
	if validPriorities[Priority(raw)] {
		return Priority(raw), true
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if validPriorities[Priority(lower)] {
		return Priority(lower), true
	}
	if p, ok := prioritySynonyms[lower]; ok {
		return p, true
	}
	return "", false
}

// IssueType classifies the kind of work an issue represents.
type IssueType string

const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeOther   IssueType = "other"
)

var validTypes = map[IssueType]bool{
	TypeBug:     true,
	TypeFeature: true,
	TypeOther:   true,
}

// IsValid reports whether t is one of the closed set of issue types.
func (t IssueType) IsValid() bool {
	return validTypes[t]
}

// ValidIssueTypes returns the full list of accepted issue type values.
func ValidIssueTypes() []string {
	return []string{string(TypeBug), string(TypeFeature), string(TypeOther)}
}

// NormalizeIssueType maps a raw string to a canonical IssueType.
// Unrecognized values collapse to TypeOther.
func NormalizeIssueType(raw string) IssueType {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if validTypes[IssueType(lower)] {
		return IssueType(lower)
	}
	switch lower {
	case "defect", "incident":
		return TypeBug
	case "enhancement", "story":
		return TypeFeature
	}
	return TypeOther
}

// MilestoneStatus is the open/closed state of a milestone.
type MilestoneStatus string

const (
	MilestoneOpen   MilestoneStatus = "open"
	MilestoneClosed MilestoneStatus = "closed"
)

// IsValid reports whether m is open or closed.
func (m MilestoneStatus) IsValid() bool {
	return m == MilestoneOpen || m == MilestoneClosed
}
