package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/baseline"
	"github.com/roamkit/roam/internal/github"
	"github.com/roamkit/roam/internal/links"
	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/storage"
	"github.com/roamkit/roam/internal/telemetry"
	"github.com/roamkit/roam/internal/tracker"
	"github.com/roamkit/roam/internal/ui"
)

var (
	syncDryRun          bool
	syncStrategy        string
	syncBackend         string
	syncMilestones      bool
	syncIncludeArchived bool
	syncWorkers         int
	syncFields          []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize local issues with the remote tracker",
	Long: `Synchronize .roadmap/ issue files with the remote tracker using
three-way merge against the last-sync baseline.

Exit codes: 0 clean, 1 unresolved conflicts or per-issue failures,
2 fatal (authentication or transport).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backendName := syncBackend
		if backendName == "" {
			backendName = cfg.Backend
		}
		if backendName != github.BackendName {
			return fmt.Errorf("unknown backend %q (only %q is supported)", backendName, github.BackendName)
		}
		if cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
			return fmt.Errorf("github.owner and github.repo must be set in .roadmap/config.yaml")
		}

		strategyName := syncStrategy
		if strategyName == "" {
			strategyName = cfg.Strategy
		}
		strategy, err := tracker.ParseStrategy(strategyName)
		if err != nil {
			return err
		}

		store := storage.New(workDir, lockfile.NewManager(logger), logger)
		if _, err := os.Stat(store.Paths().RoadmapDir()); err != nil {
			return fmt.Errorf("no .roadmap/ directory in %s (run roam init first)", workDir)
		}

		idx, err := links.Open(store.Paths().LinksDBPath(), logger)
		if err != nil {
			return err
		}
		defer func() { _ = idx.Close() }()

		recorder, err := telemetry.NewRecorder()
		if err != nil {
			logger.Warn("metrics disabled", "error", err)
		}

		backend := github.NewBackend(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo, logger)
		base := baseline.NewStore(store.Paths().BaselinePath, logger)
		orch := tracker.NewOrchestrator(backend, store, idx, base, recorder, backend.Repo(), logger)

		workers := syncWorkers
		if workers == 0 {
			workers = cfg.Workers
		}
		report := orch.Run(cmd.Context(), tracker.Options{
			Strategy:        strategy,
			DryRun:          syncDryRun,
			IncludeArchived: syncIncludeArchived,
			Milestones:      syncMilestones,
			Workers:         workers,
			Fields:          syncFields,
		})

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			fmt.Print(ui.RenderReport(report))
		}

		exitCode = report.ExitCode()
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "compute and report changes without applying them")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "", "conflict strategy: manual, keep-local, keep-remote, auto")
	syncCmd.Flags().StringVar(&syncBackend, "backend", "", "remote backend (default from config)")
	syncCmd.Flags().BoolVar(&syncMilestones, "milestones", false, "also synchronize milestones")
	syncCmd.Flags().BoolVar(&syncIncludeArchived, "include-archived", false, "include archived issues in the sync")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "concurrent apply workers (default from config)")
	syncCmd.Flags().StringSliceVar(&syncFields, "fields", nil, "override the synced field set")
	rootCmd.AddCommand(syncCmd)
}
