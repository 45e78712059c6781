// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package backup

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSnapshotter struct {
	payload string
	calls   int
	fail    bool
}

func (f *fakeSnapshotter) Backup(w io.Writer) (uint64, error) {
	f.calls++
	if f.fail {
		return 0, io.ErrUnexpectedEOF
	}
	if _, err := io.WriteString(w, f.payload); err != nil {
		return 0, err
	}
	return uint64(f.calls), nil
}

func TestSnapshotWritesFinalFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(&fakeSnapshotter{payload: "accounts"}, Config{Dir: dir})

	if err := svc.Snapshot(time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "20260801T030000Z.bak"))
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if string(data) != "accounts" {
		t.Fatalf("snapshot content = %q", data)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary file %s left behind", e.Name())
		}
	}
}

func TestSnapshotFailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(&fakeSnapshotter{fail: true}, Config{Dir: dir})

	if err := svc.Snapshot(time.Now()); err == nil {
		t.Fatal("expected snapshot error")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}

func TestPruneKeepsNewestCount(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(&fakeSnapshotter{payload: "x"}, Config{Dir: dir, KeepCount: 2})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := svc.Snapshot(base.Add(time.Duration(i) * time.Hour)); err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
	}

	if err := svc.Prune(base.Add(4 * time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 snapshots after prune, found %d", len(entries))
	}
	names := []string{entries[0].Name(), entries[1].Name()}
	for _, want := range []string{"20260801T020000Z.bak", "20260801T030000Z.bak"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s to survive prune, kept %v", want, names)
		}
	}
}

func TestPruneHonorsMaxAgeBeyondKeepCount(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(&fakeSnapshotter{payload: "x"}, Config{
		Dir:       dir,
		KeepCount: 1,
		MaxAge:    48 * time.Hour,
	})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := svc.Snapshot(base.Add(time.Duration(i) * 24 * time.Hour)); err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
	}

	// Day 0 is over MaxAge, day 1 is within it, day 2 is in KeepCount.
	if err := svc.Prune(base.Add(3 * 24 * time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 snapshots, found %d", len(entries))
	}
}

func TestPruneIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := NewService(&fakeSnapshotter{payload: "x"}, Config{Dir: dir, KeepCount: 1})

	if err := svc.Prune(time.Now()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}
