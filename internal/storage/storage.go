// Package storage provides entity-level persistence for issues and
// milestones, composing the file lock manager and the frontmatter
// store so every write is serialized and atomic.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roamkit/roam/internal/frontmatter"
	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/types"
)

// ErrNotFound is returned when no file exists for the requested entity.
var ErrNotFound = errors.New("entity not found")

// Invalid describes a file that failed to load or validate during a
// bulk scan. Bulk operations continue past these.
type Invalid struct {
	Path   string
	Reason string
}

// Store is the persistence service for the .roadmap tree.
type Store struct {
	paths  Paths
	files  *frontmatter.Store
	locks  *lockfile.Manager
	logger *slog.Logger
}

// New constructs a Store rooted at the working directory.
func New(root string, locks *lockfile.Manager, logger *slog.Logger) *Store {
	return &Store{
		paths:  Paths{Root: root},
		files:  frontmatter.NewStore(locks, logger),
		locks:  locks,
		logger: logger,
	}
}

// Paths exposes the path layout for collaborators (baseline, links).
func (s *Store) Paths() Paths { return s.paths }

// Init creates the .roadmap directory layout.
func (s *Store) Init() error {
	for _, dir := range []string{s.paths.IssuesDir(), s.paths.MilestonesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// --- Issues ---

// SaveIssue validates and writes an issue under the file lock. The
// Updated timestamp is advanced unless the caller already did so.
func (s *Store) SaveIssue(issue *types.Issue) error {
	return s.saveIssue(issue, frontmatter.SaveOptions{})
}

// SaveIssueBackup is SaveIssue with a one-shot backup of the previous
// file contents.
func (s *Store) SaveIssueBackup(issue *types.Issue) error {
	return s.saveIssue(issue, frontmatter.SaveOptions{Backup: true})
}

func (s *Store) saveIssue(issue *types.Issue, opts frontmatter.SaveOptions) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("issue %s: %w", issue.ID, err)
	}
	path, err := s.issuePathFor(issue)
	if err != nil {
		return err
	}
	if err := s.files.Save(path, issue, issue.Content, opts); err != nil {
		return fmt.Errorf("saving issue %s: %w", issue.ID, err)
	}
	return nil
}

// issuePathFor prefers the existing on-disk location of the issue so a
// milestone change does not silently fork the file, falling back to
// the canonical grouped path for new issues.
func (s *Store) issuePathFor(issue *types.Issue) (string, error) {
	existing, err := s.findIssueFile(issue.ID)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, ErrNotFound) {
		return s.paths.IssuePath(issue.ID, issue.Milestone), nil
	}
	return "", err
}

// findIssueFile locates the file for an issue id anywhere under the
// issues root (issues may be grouped by milestone subdirectory).
func (s *Store) findIssueFile(id string) (string, error) {
	want := id + ".md"
	var found string
	err := filepath.WalkDir(s.paths.IssuesDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning issues dir: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return found, nil
}

// LoadIssue reads a single issue by id.
func (s *Store) LoadIssue(id string) (*types.Issue, error) {
	path, err := s.findIssueFile(id)
	if err != nil {
		return nil, err
	}
	return s.loadIssueFile(path)
}

func (s *Store) loadIssueFile(path string) (*types.Issue, error) {
	var issue types.Issue
	body, err := s.files.Load(path, &issue)
	if err != nil {
		return nil, err
	}
	issue.Content = body
	issue.MigrateTimestampsUTC()
	if err := issue.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &issue, nil
}

// LoadIssues scans the issue tree and returns all valid issues keyed by
// id, plus the list of files that failed to parse or validate. A single
// malformed file never aborts the scan.
func (s *Store) LoadIssues(includeArchived bool) (map[string]*types.Issue, []Invalid, error) {
	issues := make(map[string]*types.Issue)
	var invalid []Invalid

	err := filepath.WalkDir(s.paths.IssuesDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		issue, loadErr := s.loadIssueFile(path)
		if loadErr != nil {
			s.logger.Warn("skipping invalid issue file", "path", path, "error", loadErr)
			invalid = append(invalid, Invalid{Path: path, Reason: loadErr.Error()})
			return nil
		}
		if !includeArchived && issue.Status == types.StatusArchived {
			return nil
		}
		if prev, dup := issues[issue.ID]; dup {
			invalid = append(invalid, Invalid{Path: path, Reason: fmt.Sprintf("duplicate id %s (already loaded for %s)", issue.ID, prev.Title)})
			return nil
		}
		issues[issue.ID] = issue
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning issues: %w", err)
	}
	return issues, invalid, nil
}

// UpdateIssue applies mutate to the stored issue under its file lock:
// acquire, load current, mutate, write atomically, release. The Updated
// timestamp is advanced on success.
func (s *Store) UpdateIssue(id string, mutate func(*types.Issue) error) (*types.Issue, error) {
	path, err := s.findIssueFile(id)
	if err != nil {
		return nil, err
	}

	var updated *types.Issue
	err = s.locks.WithLock(path, 0, "update-issue", func() error {
		issue, err := s.loadIssueFile(path)
		if err != nil {
			return err
		}
		if err := mutate(issue); err != nil {
			return err
		}
		issue.Updated = time.Now().UTC()
		if err := issue.Validate(); err != nil {
			return fmt.Errorf("issue %s after update: %w", id, err)
		}
		if err := s.files.SaveUnlocked(path, issue, issue.Content, frontmatter.SaveOptions{}); err != nil {
			return err
		}
		updated = issue
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating issue %s: %w", id, err)
	}
	return updated, nil
}

// ArchiveIssue marks an issue archived; issues are never deleted.
func (s *Store) ArchiveIssue(id string) error {
	_, err := s.UpdateIssue(id, func(issue *types.Issue) error {
		issue.Status = types.StatusArchived
		return nil
	})
	return err
}

// --- Milestones ---

// SaveMilestone validates and writes a milestone under the file lock.
func (s *Store) SaveMilestone(m *types.Milestone) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("milestone %s: %w", m.Name, err)
	}
	path := s.paths.MilestonePath(m.Name)
	if err := s.files.Save(path, m, m.Content, frontmatter.SaveOptions{}); err != nil {
		return fmt.Errorf("saving milestone %s: %w", m.Name, err)
	}
	return nil
}

// LoadMilestone reads a single milestone by name.
func (s *Store) LoadMilestone(name string) (*types.Milestone, error) {
	path := s.paths.MilestonePath(name)
	var m types.Milestone
	body, err := s.files.Load(path, &m)
	if errors.Is(err, frontmatter.ErrNotFound) {
		return nil, fmt.Errorf("milestone %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Content = body
	m.MigrateTimestampsUTC()
	return &m, nil
}

// LoadMilestones scans the milestone directory, keyed by name.
func (s *Store) LoadMilestones() (map[string]*types.Milestone, []Invalid, error) {
	milestones := make(map[string]*types.Milestone)
	var invalid []Invalid

	entries, err := os.ReadDir(s.paths.MilestonesDir())
	if os.IsNotExist(err) {
		return milestones, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading milestones dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(s.paths.MilestonesDir(), e.Name())
		var m types.Milestone
		body, loadErr := s.files.Load(path, &m)
		if loadErr == nil {
			m.Content = body
			m.MigrateTimestampsUTC()
			loadErr = m.Validate()
		}
		if loadErr != nil {
			s.logger.Warn("skipping invalid milestone file", "path", path, "error", loadErr)
			invalid = append(invalid, Invalid{Path: path, Reason: loadErr.Error()})
			continue
		}
		milestones[m.Name] = &m
	}
	return milestones, invalid, nil
}

// UpdateMilestone applies mutate to the stored milestone under its
// file lock.
func (s *Store) UpdateMilestone(name string, mutate func(*types.Milestone) error) (*types.Milestone, error) {
	path := s.paths.MilestonePath(name)

	var updated *types.Milestone
	err := s.locks.WithLock(path, 0, "update-milestone", func() error {
		var m types.Milestone
		body, err := s.files.Load(path, &m)
		if errors.Is(err, frontmatter.ErrNotFound) {
			return fmt.Errorf("milestone %s: %w", name, ErrNotFound)
		}
		if err != nil {
			return err
		}
		m.Content = body
		m.MigrateTimestampsUTC()
		if err := mutate(&m); err != nil {
			return err
		}
		m.Updated = time.Now().UTC()
		if err := m.Validate(); err != nil {
			return fmt.Errorf("milestone %s after update: %w", name, err)
		}
		if err := s.files.SaveUnlocked(path, &m, m.Content, frontmatter.SaveOptions{}); err != nil {
			return err
		}
		updated = &m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating milestone %s: %w", name, err)
	}
	return updated, nil
}
