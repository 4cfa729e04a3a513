// Package tracker contains the sync engine: the backend interface,
// the state comparator, the conflict resolver, and the orchestrator
// that drives one sync run end to end.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/roamkit/roam/internal/types"
)

// Backend error kinds. Backends wrap their failures with one of these
// so the orchestrator can categorize without knowing transport details.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrTransport   = errors.New("transport error")
	ErrNotFound    = errors.New("remote entity not found")
	ErrRateLimited = errors.New("rate limited")
	ErrValidation  = errors.New("remote rejected payload")
)

// Backend is the interface every remote tracker integration implements.
// The sync core depends only on this; wire protocols stay inside the
// backend packages.
type Backend interface {
	// Name is the short identifier used as the key in remote_ids
	// (e.g., "gh").
	Name() string

	// Authenticate verifies credentials. Idempotent; implementations
	// cache the result for the duration of a run.
	Authenticate(ctx context.Context) (bool, error)

	// GetIssues fetches all issues visible to the credentials, keyed by
	// the backend-specific remote key (e.g., the issue number as a
	// string). Matching remote keys to local ids happens in the
	// comparator.
	GetIssues(ctx context.Context, opts FetchOptions) (map[string]RemoteIssue, error)

	// PushIssue creates or updates the remote copy of a local issue and
	// returns the assigned remote id so the orchestrator can link.
	PushIssue(ctx context.Context, issue *types.Issue) (remoteID string, err error)

	// PullIssue fetches a single remote issue by key.
	PullIssue(ctx context.Context, remoteKey string) (*RemoteIssue, error)

	// UpdateState is the fast path for status-only changes.
	UpdateState(ctx context.Context, remoteKey string, status types.Status) error

	// GetMilestones fetches all remote milestones keyed by title.
	GetMilestones(ctx context.Context) (map[string]RemoteMilestone, error)

	// PushMilestone creates or updates a remote milestone and returns
	// its remote id.
	PushMilestone(ctx context.Context, m *types.Milestone) (remoteID string, err error)
}

// FetchOptions narrows a GetIssues call.
type FetchOptions struct {
	// Since enables incremental fetch: only issues updated after this
	// time. Nil fetches everything.
	Since *time.Time
	// State filter: "open", "closed", or "" for all.
	State string
}

// RemoteIssue is the backend-neutral record for a remote issue,
// carrying only the synced fields. Status and Priority are the raw
// remote strings; normalization to local enums happens in the
// comparator so unmappable values surface with context.
type RemoteIssue struct {
	Key       string // backend-specific key (e.g., issue number)
	ID        string // raw remote id, stored in remote_ids
	Title     string
	Content   string
	Status    string
	Priority  string
	Assignee  string
	Milestone string
	Labels    []string
	UpdatedAt *time.Time
	URL       string
}

// RemoteMilestone is the backend-neutral record for a remote milestone.
type RemoteMilestone struct {
	Key         string
	ID          string
	Title       string
	Description string
	State       string
	DueDate     *time.Time
	UpdatedAt   *time.Time
}
