// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

// Package backup snapshots the account store to timestamped files on a
// fixed interval and prunes old snapshots by count and age.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/logging"
)

const snapshotExt = ".bak"

// Snapshotter is the store-side half of the backup service. BadgerStore
// implements it; in-memory stores do not and are simply not backed up.
type Snapshotter interface {
	Backup(w io.Writer) (uint64, error)
}

// Config controls snapshot cadence and retention.
type Config struct {
	// Dir is where snapshot files are written.
	Dir string

	// Interval between snapshots. Defaults to 24h.
	Interval time.Duration

	// KeepCount is the minimum number of snapshots retained regardless
	// of age. Defaults to 7.
	KeepCount int

	// MaxAge deletes snapshots older than this, beyond KeepCount.
	// Zero disables age-based pruning.
	MaxAge time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.KeepCount <= 0 {
		c.KeepCount = 7
	}
}

// Service is a suture service that runs the snapshot loop.
type Service struct {
	store Snapshotter
	cfg   Config
}

// NewService builds a backup service around a snapshot-capable store.
func NewService(store Snapshotter, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{store: store, cfg: cfg}
}

// Serve snapshots on the configured interval until the context is
// canceled. A failed snapshot is logged and retried on the next tick.
func (s *Service) Serve(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Snapshot(time.Now()); err != nil {
				logging.Error().Err(err).Msg("Account store snapshot failed")
				continue
			}
			if err := s.Prune(time.Now()); err != nil {
				logging.Warn().Err(err).Msg("Snapshot retention pruning failed")
			}
		}
	}
}

func (s *Service) String() string { return "account-store-backup" }

// Snapshot writes one snapshot file. The file is written under a
// temporary name and renamed into place so readers never see a partial
// snapshot.
func (s *Service) Snapshot(now time.Time) error {
	name := now.UTC().Format("20060102T150405Z") + snapshotExt
	final := filepath.Join(s.cfg.Dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	version, err := s.store.Backup(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("finalize snapshot: %w", err)
	}

	logging.Info().
		Str("file", name).
		Uint64("version", version).
		Msg("Account store snapshot written")
	return nil
}

// Prune enforces retention: the newest KeepCount snapshots always stay,
// and anything older than MaxAge beyond that is deleted.
func (s *Service) Prune(now time.Time) error {
	snaps, err := s.listSnapshots()
	if err != nil {
		return err
	}

	// Newest first.
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].taken.After(snaps[j].taken)
	})

	for i, snap := range snaps {
		if i < s.cfg.KeepCount {
			continue
		}
		if s.cfg.MaxAge > 0 && now.Sub(snap.taken) <= s.cfg.MaxAge {
			continue
		}
		if err := os.Remove(snap.path); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", snap.path, err)
		}
		logging.Debug().Str("file", filepath.Base(snap.path)).Msg("Old snapshot pruned")
	}
	return nil
}

type snapshot struct {
	path  string
	taken time.Time
}

func (s *Service) listSnapshots() ([]snapshot, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var snaps []snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		stamp := strings.TrimSuffix(e.Name(), snapshotExt)
		taken, err := time.Parse("20060102T150405Z", stamp)
		if err != nil {
			// Not one of ours.
			continue
		}
		snaps = append(snaps, snapshot{
			path:  filepath.Join(s.cfg.Dir, e.Name()),
			taken: taken,
		})
	}
	return snaps, nil
}
