package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/persistence"
)

// snapshotTimeFormat carries nanoseconds: one snapshot is taken before every
// transition, so several can land within the same second, and RestoreLatest
// and prune order snapshots by name.
const snapshotTimeFormat = "20060102T150405.000000000"

// Snapshot writes a timestamped copy of the run document and prunes the
// oldest copies beyond the configured retention.
func (s *Store) Snapshot(_ context.Context, run *models.Run) (string, error) {
	id := fmt.Sprintf("state_%s_%s", time.Now().UTC().Format(snapshotTimeFormat), uuid.New().String()[:8])

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot of run %s: %w", run.ID, err)
	}

	path := filepath.Join(s.dir, snapshotsDir, id+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := s.prune(); err != nil {
		s.logger.Warn("snapshot pruning failed", "error", err)
	}

	s.logger.Debug("snapshot taken", "snapshot_id", id, "run_id", run.ID)

	return id, nil
}

// RestoreLatest loads the newest snapshot that parses and validates,
// marking the run with restore provenance. Snapshots that fail validation
// are skipped, not deleted.
func (s *Store) RestoreLatest(_ context.Context) (*models.Run, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return nil, err
	}

	// Newest first: names embed a sortable UTC timestamp.
	for i := len(names) - 1; i >= 0; i-- {
		run, readErr := s.readDocument(filepath.Join(s.dir, snapshotsDir, names[i]))
		if readErr != nil {
			s.logger.Warn("skipping invalid snapshot", "snapshot", names[i], "error", readErr)

			continue
		}

		now := time.Now().UTC()
		run.RestoredFrom = names[i]
		run.RestoredAt = &now
		run.Audit("restored_from_snapshot", run.CurrentStage, map[string]any{"snapshot": names[i]})

		return run, nil
	}

	return nil, fmt.Errorf("no valid snapshot available: %w", persistence.ErrRunNotFound)
}

// restoreNewerThan restores the newest valid snapshot written after t.
func (s *Store) restoreNewerThan(t time.Time) (*models.Run, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return nil, err
	}

	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, snapshotsDir, names[i])

		info, statErr := os.Stat(path)
		if statErr != nil || !info.ModTime().After(t) {
			continue
		}

		run, readErr := s.readDocument(path)
		if readErr != nil {
			continue
		}

		now := time.Now().UTC()
		run.RestoredFrom = names[i]
		run.RestoredAt = &now

		return run, nil
	}

	return nil, persistence.ErrRunNotFound
}

func (s *Store) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, snapshotsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

func (s *Store) prune() error {
	names, err := s.snapshotNames()
	if err != nil {
		return err
	}

	for len(names) > s.keepSnapshots {
		if err := os.Remove(filepath.Join(s.dir, snapshotsDir, names[0])); err != nil {
			return err
		}

		names = names[1:]
	}

	return nil
}
