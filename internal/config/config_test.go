package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	return &Loader{Home: t.TempDir(), Project: t.TempDir()}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	l := newLoader(t)

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if want := filepath.Join(l.Home, DirName, "store.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	if !cfg.Store.Rules {
		t.Error("Store.Rules should default to true")
	}
	if cfg.Sync.TeamRefreshInterval != 5*time.Second || cfg.Sync.InviteRefreshInterval != 5*time.Second {
		t.Errorf("Sync = %+v, want 5s intervals", cfg.Sync)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080", cfg.Dashboard.Port)
	}
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	l := newLoader(t)
	writeFile(t, l.GlobalPath(), "sync:\n  team_refresh_interval: 10s\ndashboard:\n  port: 9000\n")
	writeFile(t, l.ProjectPath(), "sync:\n  team_refresh_interval: 20s\n")

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Sync.TeamRefreshInterval != 20*time.Second {
		t.Errorf("TeamRefreshInterval = %s, want project value 20s", cfg.Sync.TeamRefreshInterval)
	}
	if cfg.Sync.InviteRefreshInterval != 5*time.Second {
		t.Errorf("InviteRefreshInterval = %s, want default 5s", cfg.Sync.InviteRefreshInterval)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("Dashboard.Port = %d, want global value 9000", cfg.Dashboard.Port)
	}
}

func TestLoad_Environment(t *testing.T) {
	l := newLoader(t)
	writeFile(t, l.GlobalPath(), "sync:\n  invite_refresh_interval: 30s\n")
	t.Setenv("TASKBOARD_SYNC_INVITE_REFRESH_INTERVAL", "2s")
	t.Setenv("TASKBOARD_STORE_RULES", "false")

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.InviteRefreshInterval != 2*time.Second {
		t.Errorf("InviteRefreshInterval = %s, want env value 2s", cfg.Sync.InviteRefreshInterval)
	}
	if cfg.Store.Rules {
		t.Error("Store.Rules = true, want env override false")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	l := newLoader(t)
	writeFile(t, filepath.Join(l.Project, ".env"), "TASKBOARD_DASHBOARD_PORT=9100\n")
	t.Cleanup(func() { _ = os.Unsetenv("TASKBOARD_DASHBOARD_PORT") })

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 9100 {
		t.Errorf("Dashboard.Port = %d, want .env value 9100", cfg.Dashboard.Port)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	l := newLoader(t)
	writeFile(t, l.ProjectPath(), "store:\n  path: ~/data/board.db\nlog:\n  file: ~/logs/tb.log\n")

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if want := filepath.Join(l.Home, "data", "board.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	if want := filepath.Join(l.Home, "logs", "tb.log"); cfg.Log.File != want {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, want)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	l := newLoader(t)
	writeFile(t, l.ProjectPath(), "store:\n  path: \"\"\n")

	_, err := l.Load()
	if !errors.Is(err, ErrMissingStorePath) {
		t.Errorf("Load() error = %v, want ErrMissingStorePath", err)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	l := newLoader(t)
	writeFile(t, l.GlobalPath(), "sync: [unclosed\n")

	if _, err := l.Load(); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"missing store", func(c *Config) { c.Store.Path = "  " }, ErrMissingStorePath},
		{"zero team interval", func(c *Config) { c.Sync.TeamRefreshInterval = 0 }, ErrInvalidInterval},
		{"negative invite interval", func(c *Config) { c.Sync.InviteRefreshInterval = -time.Second }, ErrInvalidInterval},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, errAny},
		{"negative backups", func(c *Config) { c.Log.MaxBackups = -1 }, errAny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig("/home/test")
			tt.mutate(c)
			err := c.Validate()

			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("Validate() unexpected error: %v", err)
			case tt.wantErr == errAny && err == nil:
				t.Error("Validate() expected error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestWrite(t *testing.T) {
	l := newLoader(t)
	c := DefaultConfig(l.Home)
	c.Sync.TeamRefreshInterval = 45 * time.Second
	c.Dashboard.Port = 7070

	if err := Write(l.GlobalPath(), c, false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	data, err := os.ReadFile(l.GlobalPath())
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "team_refresh_interval: 45s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := l.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Sync.TeamRefreshInterval != 45*time.Second || loaded.Dashboard.Port != 7070 {
		t.Errorf("loaded = %+v", loaded)
	}

	if err := Write(l.GlobalPath(), c, false); err == nil {
		t.Error("Write() should refuse to overwrite")
	}
	if err := Write(l.GlobalPath(), c, true); err != nil {
		t.Errorf("Write(overwrite) failed: %v", err)
	}
}
