package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/storage"
	"github.com/roamkit/roam/internal/ui"
)

var (
	initOwner string
	initRepo  string
)

const configTemplate = `# roam configuration
backend: gh
strategy: manual
workers: 4

github:
  owner: %q
  repo: %q
  # token: set ROAM_GITHUB_TOKEN instead of storing it here

log:
  level: info
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .roadmap/ layout in the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(workDir, lockfile.NewManager(logger), logger)
		if err := store.Init(); err != nil {
			return err
		}

		configPath := filepath.Join(store.Paths().RoadmapDir(), "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			content := fmt.Sprintf(configTemplate, initOwner, initRepo)
			if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
		}

		fmt.Printf("%s initialized %s\n", ui.RenderPass(ui.IconPass), store.Paths().RoadmapDir())
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initOwner, "owner", "", "GitHub repository owner")
	initCmd.Flags().StringVar(&initRepo, "repo", "", "GitHub repository name")
	rootCmd.AddCommand(initCmd)
}
