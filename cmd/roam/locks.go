package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/storage"
	"github.com/roamkit/roam/internal/ui"
)

var locksStaleHours int

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and clean up file locks",
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale lock sidecars left by crashed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(workDir, lockfile.NewManager(logger), logger)
		removed, err := lockfile.NewManager(logger).Cleanup(store.Paths().RoadmapDir(), locksStaleHours)
		if err != nil {
			return err
		}
		fmt.Printf("%s removed %d stale lock(s)\n", ui.RenderPass(ui.IconPass), removed)
		return nil
	},
}

func init() {
	locksCleanupCmd.Flags().IntVar(&locksStaleHours, "stale-hours", 24, "age beyond which an unheld lock is stale")
	locksCmd.AddCommand(locksCleanupCmd)
	rootCmd.AddCommand(locksCmd)
}
