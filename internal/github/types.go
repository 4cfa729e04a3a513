// Package github implements the GitHub backend: a REST client plus the
// mapping between GitHub's issue model and roam's.
//
// GitHub has no native priority or status-beyond-open/closed, so those
// travel as scoped labels ("priority:high", "status:in-progress").
// Scoped labels are stripped from the plain label set during sync.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries bounds retries for rate-limited requests.
	MaxRetries = 3

	// MaxPageSize is the number of issues fetched per page.
	MaxPageSize = 100

	// MaxPages caps pagination so a malformed Link header cannot loop
	// forever.
	MaxPages = 1000
)

// Client talks to the GitHub REST API for one repository.
type Client struct {
	Token      string
	Owner      string
	Repo       string
	BaseURL    string
	HTTPClient *http.Client
}

// Issue is the GitHub API issue payload.
type Issue struct {
	ID          int        `json:"id"`     // global unique id
	Number      int        `json:"number"` // repository-scoped number
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // non-nil for PRs
}

// PullRef marks an issues-endpoint entry that is actually a pull
// request; the Issues API returns both.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User is a GitHub user reference.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label is a GitHub label.
type Label struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Milestone is the GitHub API milestone payload.
type Milestone struct {
	ID          int        `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       string     `json:"state"` // "open" or "closed"
	DueOn       *time.Time `json:"due_on,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// validStates for GitHub issues.
var validStates = map[string]bool{
	"open":   true,
	"closed": true,
}

// IsValidState checks a GitHub state string.
func IsValidState(state string) bool {
	return validStates[state]
}

// LabelNames extracts the name strings from API labels.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
