package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherResolvesInitialSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "quoracle.yaml", "version: 1\nprofiles:\n  entries:\n    worker:\n      capability_groups: [\"fs\"]\n      max_refinement_rounds: 2\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	groups, maxRounds, ok := w.Resolve("worker")
	if !ok {
		t.Fatal("expected \"worker\" to resolve from initial snapshot")
	}
	if maxRounds != 2 || len(groups) != 1 {
		t.Fatalf("Resolve() = %v, %d, want [fs], 2", groups, maxRounds)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "quoracle.yaml", "version: 1\nprofiles:\n  entries:\n    worker:\n      capability_groups: [\"fs\"]\n      max_refinement_rounds: 2\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("version: 1\nprofiles:\n  entries:\n    worker:\n      capability_groups: [\"fs\", \"exec\"]\n      max_refinement_rounds: 5\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if groups, maxRounds, ok := w.Resolve("worker"); ok && maxRounds == 5 && len(groups) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for profile catalog reload")
}

func TestWatcherRejectsMissingFile(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/quoracle.yaml", nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
