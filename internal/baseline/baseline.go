// Package baseline persists the last-agreed state of each issue per
// backend. The baseline is the common ancestor for three-way merge: a
// snapshot of the synced fields as both sides last saw them.
package baseline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roamkit/roam/internal/frontmatter"
	"github.com/roamkit/roam/internal/types"
)

// IssueBaseState is the per-issue snapshot captured after a successful
// sync. Labels are stored in canonical (sorted, duplicate-free) form.
type IssueBaseState struct {
	IssueID   string         `json:"issue_id"`
	Title     string         `json:"title"`
	Status    types.Status   `json:"status"`
	Priority  types.Priority `json:"priority"`
	Assignee  string         `json:"assignee,omitempty"`
	Milestone string         `json:"milestone,omitempty"`
	Content   string         `json:"content,omitempty"`
	Labels    []string       `json:"labels,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// Snapshot projects an issue onto the baseline fields.
func Snapshot(issue *types.Issue) IssueBaseState {
	updated := issue.Updated
	return IssueBaseState{
		IssueID:   issue.ID,
		Title:     issue.Title,
		Status:    issue.Status,
		Priority:  issue.Priority,
		Assignee:  issue.Assignee,
		Milestone: issue.Milestone,
		Content:   issue.Content,
		Labels:    types.CanonicalLabels(issue.Labels),
		UpdatedAt: &updated,
	}
}

// document is the on-disk JSON shape, one file per backend.
type document struct {
	Backend  string                    `json:"backend"`
	LastSync time.Time                 `json:"last_sync"`
	Issues   map[string]IssueBaseState `json:"issues"`
}

// Store reads and writes .sync-state.<backend>.json files.
type Store struct {
	pathFor func(backend string) string
	logger  *slog.Logger
}

// NewStore constructs a Store. pathFor maps a backend name to its
// baseline file path (normally storage.Paths.BaselinePath).
func NewStore(pathFor func(backend string) string, logger *slog.Logger) *Store {
	return &Store{pathFor: pathFor, logger: logger}
}

// Load returns the baseline map for a backend. A missing or corrupted
// file means "no baseline yet": the map is empty and sync proceeds,
// treating every field as new relative to baseline.
func (s *Store) Load(backend string) (map[string]IssueBaseState, error) {
	path := s.pathFor(backend)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]IssueBaseState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("baseline file corrupted, treating as absent", "path", path, "error", err)
		return map[string]IssueBaseState{}, nil
	}
	if doc.Issues == nil {
		doc.Issues = map[string]IssueBaseState{}
	}
	return doc.Issues, nil
}

// Save replaces the baseline for a backend with the given map,
// stamping last_sync with the current time. The write is atomic.
func (s *Store) Save(backend string, issues map[string]IssueBaseState) error {
	path := s.pathFor(backend)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating baseline dir: %w", err)
	}
	if issues == nil {
		issues = map[string]IssueBaseState{}
	}
	doc := document{Backend: backend, LastSync: time.Now().UTC(), Issues: issues}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding baseline for %s: %w", backend, err)
	}
	if err := frontmatter.WriteAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing baseline %s: %w", path, err)
	}
	s.logger.Debug("baseline saved", "backend", backend, "issues", len(issues))
	return nil
}

// Update advances the baseline for a single issue, leaving all other
// entries untouched.
func (s *Store) Update(backend, localID string, state IssueBaseState) error {
	issues, err := s.Load(backend)
	if err != nil {
		return err
	}
	issues[localID] = state
	return s.Save(backend, issues)
}

// Clear removes the baseline file for a backend. The next sync starts
// from "no baseline".
func (s *Store) Clear(backend string) error {
	path := s.pathFor(backend)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing baseline %s: %w", path, err)
	}
	return nil
}
