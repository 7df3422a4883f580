package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		Sync:           Sync{APIBaseURL: "http://api.test", OwnerUserID: "u1", BackoffMin: "2s"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Sync.APIBaseURL != "http://api.test" || loaded.Sync.OwnerUserID != "u1" || loaded.Sync.BackoffMin != "2s" {
		t.Errorf("Sync = %+v", loaded.Sync)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "" {
		t.Errorf("DefaultProfile = %q, want empty", cfg.DefaultProfile)
	}
}

func TestLoadSyncTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `default_profile = "main"

[sync]
api_base_url = "http://localhost:9000"
owner_user_id = "me"
drain_interval = "10s"
max_retries = 3
workers = 2
probe_address = "localhost:9000"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := cfg.Sync.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.DrainInterval != 10*time.Second || s.MaxRetries != 3 || s.Workers != 2 {
		t.Errorf("settings = %+v", s)
	}
	// Unset values fall back to defaults.
	if s.BackoffMin != DefaultBackoffMin || s.BackoffMax != DefaultBackoffMax || s.CompletedRetention != DefaultCompletedRetention {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestSettingsRejectsBadDurations(t *testing.T) {
	tests := []struct {
		name string
		sync Sync
	}{
		{"unparseable", Sync{DrainInterval: "soon"}},
		{"negative", Sync{SweepInterval: "-1s"}},
		{"max below min", Sync{BackoffMin: "10s", BackoffMax: "1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sync.Settings(); err == nil {
				t.Error("Settings() expected error")
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadLogTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[log]\nlevel = \"debug\"\nquiet = true\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Quiet {
		t.Errorf("Log = %+v, want debug and quiet", cfg.Log)
	}
}
