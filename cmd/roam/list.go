package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/storage"
	"github.com/roamkit/roam/internal/types"
	"github.com/roamkit/roam/internal/ui"
)

var (
	listStatus          string
	listMilestone       string
	listIncludeArchived bool
)

func statusStyle(status types.Status) string {
	s := string(status)
	switch status {
	case types.StatusClosed:
		return ui.RenderMuted(s)
	case types.StatusInProgress:
		return ui.RenderAccent(s)
	case types.StatusBlocked:
		return ui.RenderWarn(s)
	default:
		return s
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(workDir, lockfile.NewManager(logger), logger)
		if _, err := os.Stat(store.Paths().RoadmapDir()); err != nil {
			return fmt.Errorf("no .roadmap/ directory in %s (run roam init first)", workDir)
		}

		issues, invalid, err := store.LoadIssues(listIncludeArchived)
		if err != nil {
			return err
		}
		for _, inv := range invalid {
			logger.Warn("skipping invalid issue file", "path", inv.Path, "reason", inv.Reason)
		}

		var out []*types.Issue
		for _, issue := range issues {
			if listStatus != "" && string(issue.Status) != listStatus {
				continue
			}
			if listMilestone != "" && issue.Milestone != listMilestone {
				continue
			}
			out = append(out, issue)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		for _, issue := range out {
			line := fmt.Sprintf("%-10s %-14s %-8s %s",
				ui.RenderAccent(issue.ID), statusStyle(issue.Status), issue.Priority, issue.Title)
			if len(issue.Labels) > 0 {
				line += " " + ui.RenderMuted("["+strings.Join(types.CanonicalLabels(issue.Labels), ", ")+"]")
			}
			fmt.Println(line)
		}
		fmt.Println(ui.RenderMuted(fmt.Sprintf("%d issues", len(out))))
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listMilestone, "milestone", "", "filter by milestone")
	listCmd.Flags().BoolVar(&listIncludeArchived, "include-archived", false, "include archived issues")
	rootCmd.AddCommand(listCmd)
}
