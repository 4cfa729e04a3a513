package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roamkit/roam/internal/tracker"
)

func actionIcon(action string) string {
	switch action {
	case "pushed", "pulled", "merged", "archived":
		return RenderPass(IconPass)
	case "conflict":
		return RenderWarn(IconWarn)
	case "failed":
		return RenderFail(IconFail)
	default:
		return RenderMuted(IconSkip)
	}
}

// RenderReport formats a sync report for the terminal.
func RenderReport(r *tracker.Report) string {
	var b strings.Builder

	head := fmt.Sprintf("Sync %s", r.Backend)
	if r.Repo != "" {
		head += fmt.Sprintf(" (%s)", r.Repo)
	}
	if r.DryRun {
		head += " " + RenderMuted("[dry run]")
	}
	b.WriteString(HeaderStyle.Render(head) + "\n")

	if r.Error != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", RenderFail(IconFail), r.Error))
		return b.String()
	}

	if r.DryRun {
		b.WriteString(fmt.Sprintf("  to push %d, to pull %d, up to date %d\n", r.NeedsPush, r.NeedsPull, r.UpToDate))
	} else {
		b.WriteString(fmt.Sprintf("  pushed %d, pulled %d, up to date %d\n", r.Pushed, r.Pulled, r.UpToDate))
	}
	if r.ConflictsDetected > 0 {
		line := fmt.Sprintf("  conflicts: %d detected, %d resolved", r.ConflictsDetected, r.ConflictsResolved)
		if r.UnresolvedConflicts() > 0 {
			b.WriteString(RenderWarn(line) + "\n")
		} else {
			b.WriteString(line + "\n")
		}
	}
	if r.MilestonesPushed+r.MilestonesPulled > 0 {
		b.WriteString(fmt.Sprintf("  milestones: pushed %d, pulled %d\n", r.MilestonesPushed, r.MilestonesPulled))
	}

	if len(r.Changes) > 0 {
		b.WriteString("\n")
		for _, c := range r.Changes {
			line := fmt.Sprintf("  %s %-10s %-10s %s", actionIcon(c.Action), c.IssueID, c.Action, c.Title)
			if c.Reason != "" {
				line += " " + RenderMuted("("+c.Reason+")")
			}
			b.WriteString(line + "\n")
		}
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n" + FailStyle.Render("Errors:") + "\n")
		ids := make([]string, 0, len(r.Errors))
		for id := range r.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			b.WriteString(fmt.Sprintf("  %s %s: %s\n", RenderFail(IconFail), id, r.Errors[id]))
		}
	}

	return b.String()
}
