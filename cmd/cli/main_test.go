// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const pausePayload = `{
  "Event": "playback.pause",
  "Date": "2024-05-01T15:30:15Z",
  "Server": {"Name": "Home"},
  "User": {"Name": "alice"},
  "Session": {"Id": "s1", "DeviceName": "TV"},
  "Item": {"Name": "Alien", "ProductionYear": 1979}
}`

// setupEnv points the CLI at a fresh SQLite file and away from any config
// file in the working directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "webhooks.db"))
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIIngestRecentSessionsClear(t *testing.T) {
	dir := setupEnv(t)

	payloadPath := filepath.Join(dir, "pause.json")
	if err := os.WriteFile(payloadPath, []byte(pausePayload), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	out, err := runCLI(t, "", "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Schema up to date (sqlite)") {
		t.Fatalf("unexpected migrate output %q", out)
	}

	out, err = runCLI(t, "", "ingest", payloadPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(out, "Admitted entry") {
		t.Fatalf("expected admitted output got %q", out)
	}

	out, err = runCLI(t, pausePayload, "ingest", "-")
	if err != nil {
		t.Fatalf("ingest stdin: %v", err)
	}
	if !strings.Contains(out, "Suppressed playback.pause for session sess:s1") {
		t.Fatalf("expected suppressed output got %q", out)
	}

	out, err = runCLI(t, "", "recent")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !strings.Contains(out, "Alien (1979)") || strings.Count(out, "playback.pause") != 1 {
		t.Fatalf("expected one pause entry in recent output, got %q", out)
	}

	out, err = runCLI(t, "", "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "sess:s1") {
		t.Fatalf("expected session key in output, got %q", out)
	}

	if _, err := runCLI(t, "", "clear"); err == nil {
		t.Fatal("expected clear without --yes to fail")
	}

	out, err = runCLI(t, "", "clear", "--yes")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 entries and 1 sessions.") {
		t.Fatalf("unexpected clear output %q", out)
	}

	out, err = runCLI(t, "", "recent")
	if err != nil {
		t.Fatalf("recent after clear: %v", err)
	}
	if !strings.Contains(out, "No entries found.") {
		t.Fatalf("expected empty log after clear, got %q", out)
	}
}

func TestCLIRecentJSON(t *testing.T) {
	setupEnv(t)

	if _, err := runCLI(t, pausePayload, "ingest", "-"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	out, err := runCLI(t, "", "recent", "--json", "-n", "5")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !strings.Contains(out, `"kind": "playback.pause"`) {
		t.Fatalf("expected JSON entry, got %q", out)
	}
}

func TestCLIPrune(t *testing.T) {
	setupEnv(t)

	if _, err := runCLI(t, pausePayload, "ingest", "-"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	out, err := runCLI(t, "", "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 sessions.") {
		t.Fatalf("expected fresh session to survive, got %q", out)
	}

	if _, err := runCLI(t, "", "prune", "--older-than", "0s"); err == nil {
		t.Fatal("expected non-positive window to fail")
	}
}

func TestCLIUnknownDriver(t *testing.T) {
	setupEnv(t)

	if _, err := runCLI(t, "", "--driver", "mysql", "recent"); err == nil {
		t.Fatal("expected unknown driver to fail validation")
	}
}

func TestListGoFilesSkipsUnderscoreDirs(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"a.go", "_ref/b.go", "pkg/c.go", "pkg/d.txt"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("package x\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	files, err := listGoFiles(dir)
	if err != nil {
		t.Fatalf("list go files: %v", err)
	}
	want := []string{filepath.Join(dir, "a.go"), filepath.Join(dir, "pkg/c.go")}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("expected %v got %v", want, files)
	}
}
