package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/telemetry"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	workDir    string
	jsonOutput bool
	verbose    bool
	quiet      bool

	cfg    *config.Config
	logger *slog.Logger

	// exitCode is the process exit status; sync sets it from the report.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:     "roam",
	Short:   "Local-first roadmap tracker with remote sync",
	Long:    "roam keeps a roadmap of markdown issue files under .roadmap/ and synchronizes them with a remote issue tracker using three-way merge.",
	Version: Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if workDir, err = filepath.Abs(workDir); err != nil {
			return fmt.Errorf("resolving work dir: %w", err)
		}
		if cfg, err = config.Load(workDir); err != nil {
			return err
		}
		logger = newLogger(cfg.Log)
		if err := telemetry.Init(cmd.Context(), "roam", Version); err != nil {
			logger.Warn("telemetry disabled", "error", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := telemetry.Shutdown(cmd.Context()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "project root containing .roadmap/")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of styled output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log errors only")
}

// newLogger builds the slog logger from config and flags. With a log
// file configured, output rotates through lumberjack; otherwise it
// goes to stderr.
func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	default:
		switch lc.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	var w io.Writer = os.Stderr
	if lc.File != "" {
		path := lc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, ".roadmap", path)
		}
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
