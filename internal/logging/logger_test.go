package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONWithProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "feedsyncd.log")

	logger, err := New(Options{Path: path, Profile: "work"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("drained", Action(7, "send_message")...)
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if entry["profile"] != "work" {
		t.Errorf("profile = %v, want work", entry["profile"])
	}
	if entry["seq"] != float64(7) || entry["action"] != "send_message" {
		t.Errorf("seq/action = %v/%v", entry["seq"], entry["action"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts key")
	}
}

func TestLevelFiltersEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.log")

	logger, err := New(Options{Path: path, Profile: "work", Level: "warn"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("warn entry missing")
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := New(Options{Path: filepath.Join(t.TempDir(), "d.log"), Level: "loud"}); err == nil {
		t.Fatal("want error for unknown level")
	}
}
