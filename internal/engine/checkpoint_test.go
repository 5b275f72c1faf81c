package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/types"
	"github.com/mirrorctl/mirrorctl/internal/urlfilter"
	"github.com/mirrorctl/mirrorctl/internal/urltable"
)

func TestCheckpointSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	table := urltable.NewMemoryTable()
	_, _ = table.AddMany(context.Background(), []*types.URLRecord{
		types.NewURLRecord("https://example.com/"),
	})
	dedup := urlfilter.NewDedup()
	dedup.SeenOrMark("https://example.com/")
	stats := &Stats{}
	stats.ResponsesOK.Add(5)

	cm := NewCheckpointManager(0)
	if err := cm.Save(table, dedup, stats); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !cm.HasCheckpoint() {
		t.Fatal("HasCheckpoint = false after Save")
	}
	if _, err := os.Stat(filepath.Join(dir, ".mirrorctl_checkpoints", "checkpoint.json")); err != nil {
		t.Fatalf("checkpoint file missing: %v", err)
	}

	table2 := urltable.NewMemoryTable()
	dedup2 := urlfilter.NewDedup()
	stats2 := &Stats{}
	if err := cm.Load(table2, dedup2, stats2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats2.ResponsesOK.Load() != 5 {
		t.Errorf("ResponsesOK after load = %d, want 5", stats2.ResponsesOK.Load())
	}
	if !dedup2.SeenOrMark("https://example.com/") {
		t.Error("dedup did not import seen hash")
	}
	if _, ok, _ := table2.Get(context.Background(), "https://example.com/"); !ok {
		t.Error("table did not restore record")
	}

	if err := cm.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if cm.HasCheckpoint() {
		t.Error("HasCheckpoint = true after Clean")
	}
}

func TestCheckpointLoadMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(cwd)

	cm := NewCheckpointManager(0)
	table := urltable.NewMemoryTable()
	dedup := urlfilter.NewDedup()
	stats := &Stats{}
	if err := cm.Load(table, dedup, stats); err != nil {
		t.Fatalf("Load with no checkpoint should be a no-op, got: %v", err)
	}
}
