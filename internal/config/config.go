// Package config loads roam settings from .roadmap/config.yaml and the
// ROAM_* environment, environment winning.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration for one workspace.
type Config struct {
	Backend  string `mapstructure:"backend"`
	Strategy string `mapstructure:"strategy"`
	Workers  int    `mapstructure:"workers"`

	GitHub GitHubConfig `mapstructure:"github"`
	Log    LogConfig    `mapstructure:"log"`
}

// GitHubConfig identifies the repository roam syncs against. The token
// normally comes from ROAM_GITHUB_TOKEN rather than the file.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
}

// LogConfig controls the slog handler and optional rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads .roadmap/config.yaml under root, overlaying ROAM_*
// environment variables (ROAM_GITHUB_TOKEN maps to github.token, and
// so on). A missing config file is not an error; unset keys take
// defaults.
func Load(root string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, ".roadmap"))

	v.SetEnvPrefix("ROAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", "gh")
	v.SetDefault("strategy", "manual")
	v.SetDefault("workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	// Viper only consults the environment for keys it knows about, so
	// bind the nested ones explicitly.
	for _, key := range []string{
		"backend", "strategy", "workers",
		"github.token", "github.owner", "github.repo",
		"log.level", "log.file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	return &cfg, nil
}
