package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tasker/internal/storage"
	logx "tasker/pkg/logx"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tasker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckPrintsSchedules(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
schedules:
  - id: lights
    days: Mon-Fri
    times: "07:00, 19:30"
`)
	var out, errw bytes.Buffer
	if err := check(&out, &errw, path); err != nil {
		t.Fatalf("check: %v (stderr %q)", err, errw.String())
	}
	if !strings.Contains(out.String(), "lights") || !strings.Contains(out.String(), "07:00") {
		t.Fatalf("output = %q", out.String())
	}
	if errw.Len() != 0 {
		t.Fatalf("stderr = %q", errw.String())
	}
}

func TestCheckReportsSkippedEntries(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
schedules:
  - id: lights
    times: "07:00, 25:99"
`)
	var out, errw bytes.Buffer
	err := check(&out, &errw, path)
	if !errors.Is(err, errCheckFailed) {
		t.Fatalf("err = %v, want errCheckFailed", err)
	}
	if !strings.Contains(errw.String(), "lights.times") {
		t.Fatalf("stderr = %q", errw.String())
	}
}

func TestHistoryReadsStore(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data", "tasker")
	path := writeFile(t, dir, `
storage:
  driver: file
  path: `+dataPath+`
schedules:
  - id: lights
    times: "07:00"
`)

	st, err := storage.Open(storage.Config{Driver: "file", Path: dataPath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, hm := range []string{"07:00", "19:30"} {
		r := storage.FiringRecord{Schedule: "lights", Date: "2024-01-01", Time: hm, At: time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)}
		if err := st.AppendFiring(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := history(ctx, &out, path, "lights", 1); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "19:30") {
		t.Fatalf("history = %q", out.String())
	}

	out.Reset()
	if err := history(ctx, &out, path, "other", 0); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no firings") {
		t.Fatalf("history other = %q", out.String())
	}
}

func TestHistoryWithoutStorage(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
schedules:
  - id: lights
    times: "07:00"
`)
	err := history(context.Background(), &bytes.Buffer{}, path, "lights", 0)
	if !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "check", "history"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil || f.DefValue != defaultConfig {
		t.Fatal("config flag missing")
	}
}
