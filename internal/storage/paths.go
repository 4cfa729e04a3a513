package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout constants for the working-directory tree.
const (
	RoadmapDirName    = ".roadmap"
	IssuesDirName     = "issues"
	MilestonesDirName = "milestones"
	LinksDBName       = "remote-links.db"
)

// Paths resolves locations inside a .roadmap working tree.
type Paths struct {
	Root string // working directory containing .roadmap
}

// RoadmapDir returns <root>/.roadmap.
func (p Paths) RoadmapDir() string {
	return filepath.Join(p.Root, RoadmapDirName)
}

// IssuesDir returns the issue file root.
func (p Paths) IssuesDir() string {
	return filepath.Join(p.RoadmapDir(), IssuesDirName)
}

// MilestonesDir returns the milestone file root.
func (p Paths) MilestonesDir() string {
	return filepath.Join(p.RoadmapDir(), MilestonesDirName)
}

// IssuePath returns the file path for an issue, grouped into a
// milestone subdirectory when the issue belongs to one.
func (p Paths) IssuePath(id, milestone string) string {
	if milestone != "" {
		return filepath.Join(p.IssuesDir(), Slug(milestone), id+".md")
	}
	return filepath.Join(p.IssuesDir(), id+".md")
}

// MilestonePath returns the file path for a milestone.
func (p Paths) MilestonePath(name string) string {
	return filepath.Join(p.MilestonesDir(), Slug(name)+".md")
}

// BaselinePath returns the sync-state file for a backend.
func (p Paths) BaselinePath(backend string) string {
	return filepath.Join(p.RoadmapDir(), fmt.Sprintf(".sync-state.%s.json", backend))
}

// LinksDBPath returns the remote-link index database file.
func (p Paths) LinksDBPath() string {
	return filepath.Join(p.RoadmapDir(), LinksDBName)
}

// Slug converts a human name into a filesystem-safe path segment.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-.")
	if s == "" {
		s = "unnamed"
	}
	return s
}
