// Package config loads task board settings.
//
// Settings are layered, later sources winning:
//
//  1. built-in defaults
//  2. ~/.taskboard/config.yaml (global)
//  3. ./.taskboard/config.yaml (project)
//  4. ./.env, loaded into the environment without overriding it
//  5. TASKBOARD_* environment variables (TASKBOARD_SYNC_TEAM_REFRESH_INTERVAL=10s)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DirName is the settings directory under the home and project roots.
const DirName = ".taskboard"

// FileName is the config file inside DirName.
const FileName = "config.yaml"

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TASKBOARD"

var (
	// ErrMissingStorePath is returned when no document store is configured.
	ErrMissingStorePath = errors.New("store.path is required")

	// ErrInvalidInterval is returned for non-positive refresh intervals.
	ErrInvalidInterval = errors.New("refresh intervals must be positive")
)

// Config is the full settings tree.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Session   SessionConfig   `mapstructure:"session"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// Rules enables per-collection access rules on queries.
	Rules bool `mapstructure:"rules"`
}

// SessionConfig locates the CLI session file.
type SessionConfig struct {
	File string `mapstructure:"file"`
}

// SyncConfig holds polling intervals.
type SyncConfig struct {
	TeamRefreshInterval   time.Duration `mapstructure:"team_refresh_interval"`
	InviteRefreshInterval time.Duration `mapstructure:"invite_refresh_interval"`
}

// DashboardConfig configures the websocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures log rotation for the daemon.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns defaults rooted at home.
func DefaultConfig(home string) *Config {
	dir := filepath.Join(home, DirName)
	return &Config{
		Store:     StoreConfig{Path: filepath.Join(dir, "store.db"), Rules: true},
		Session:   SessionConfig{File: filepath.Join(dir, "session.yaml")},
		Sync:      SyncConfig{TeamRefreshInterval: 5 * time.Second, InviteRefreshInterval: 5 * time.Second},
		Dashboard: DashboardConfig{Port: 8080},
		Log:       LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Validate rejects settings the daemon and CLI cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return ErrMissingStorePath
	}
	if c.Sync.TeamRefreshInterval <= 0 || c.Sync.InviteRefreshInterval <= 0 {
		return fmt.Errorf("%w (team %s, invites %s)", ErrInvalidInterval,
			c.Sync.TeamRefreshInterval, c.Sync.InviteRefreshInterval)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard.port: %d", c.Dashboard.Port)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

// Loader resolves the config files under a home and a project root.
type Loader struct {
	Home    string
	Project string
}

// DefaultLoader uses the user's home and the working directory.
func DefaultLoader() *Loader {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	return &Loader{Home: home, Project: cwd}
}

// Load reads settings with the default loader.
func Load() (*Config, error) {
	return DefaultLoader().Load()
}

// GlobalPath returns the global config file path.
func (l *Loader) GlobalPath() string {
	return filepath.Join(l.Home, DirName, FileName)
}

// ProjectPath returns the project config file path.
func (l *Loader) ProjectPath() string {
	return filepath.Join(l.Project, DirName, FileName)
}

// Paths lists the config files in load order.
func (l *Loader) Paths() []string {
	return []string{l.GlobalPath(), l.ProjectPath()}
}

// Load merges every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := godotenv.Load(filepath.Join(l.Project, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so Unmarshal consults the environment.
	for key, value := range flatten(DefaultConfig(l.Home)) {
		v.SetDefault(key, value)
	}

	for i, path := range l.Paths() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}
		if err := read(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path, l.Home)
	cfg.Session.File = expandHome(cfg.Session.File, l.Home)
	cfg.Log.File = expandHome(cfg.Log.File, l.Home)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// flatten maps a Config onto dotted viper keys. Durations are written
// as strings so the YAML form stays readable.
func flatten(c *Config) map[string]any {
	return map[string]any{
		"store.path":                   c.Store.Path,
		"store.rules":                  c.Store.Rules,
		"session.file":                 c.Session.File,
		"sync.team_refresh_interval":   c.Sync.TeamRefreshInterval.String(),
		"sync.invite_refresh_interval": c.Sync.InviteRefreshInterval.String(),
		"dashboard.port":               c.Dashboard.Port,
		"log.file":                     c.Log.File,
		"log.max_size_mb":              c.Log.MaxSizeMB,
		"log.max_backups":              c.Log.MaxBackups,
		"log.max_age_days":             c.Log.MaxAgeDays,
	}
}

// Write saves c as YAML at path, creating parent directories. Existing
// files are left alone unless overwrite is set.
func Write(path string, c *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}

	tree := map[string]map[string]any{}
	for key, value := range flatten(c) {
		section, name, _ := strings.Cut(key, ".")
		if tree[section] == nil {
			tree[section] = map[string]any{}
		}
		tree[section][name] = value
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
