package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestHelpersReportCallSite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	if err := Init(Config{Level: "debug", Format: "json", OutputPath: out}); err != nil {
		t.Fatal(err)
	}
	defer InitNop()

	Info("from helper", String("k", "v"))
	L().Info("from logger")
	Sync()

	entries := readEntries(t, out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		caller, _ := e["caller"].(string)
		if !strings.HasPrefix(caller, "logging/logging_test.go:") {
			t.Errorf("%v: expected caller in logging_test.go, got %q", e["msg"], caller)
		}
	}
	if entries[0]["k"] != "v" {
		t.Errorf("expected field k=v, got %v", entries[0]["k"])
	}
}

func TestForSessionFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	if err := Init(Config{Level: "info", OutputPath: out}); err != nil {
		t.Fatal(err)
	}
	defer InitNop()

	ctx := ForSession(context.Background(), "abc", "10.0.0.1:5000")
	WithContext(ctx).Info("session line")
	Sync()

	e := readEntries(t, out)[0]
	if e["session_id"] != "abc" || e["peer"] != "10.0.0.1:5000" {
		t.Errorf("missing session fields: %v", e)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	if err := Init(Config{Level: "warn", OutputPath: out}); err != nil {
		t.Fatal(err)
	}
	defer InitNop()

	Debug("hidden")
	Info("hidden")
	Warn("shown")
	Sync()

	entries := readEntries(t, out)
	if len(entries) != 1 || entries[0]["msg"] != "shown" {
		t.Errorf("expected only the warning, got %v", entries)
	}
}
