// Package file implements the state store on the local filesystem: one JSON
// document per run, atomic write-temp-then-rename saves, an advisory lock
// enforcing a single writer, and timestamped snapshot copies for crash
// recovery.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/xeipuuv/gojsonschema"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/persistence"
)

const (
	stateFile    = "state.json"
	lockFile     = ".lock"
	snapshotsDir = "snapshots"
)

// Store is the file-backed state store for a single run.
type Store struct {
	dir            string
	stalenessBound time.Duration
	keepSnapshots  int
	lock           *flock.Flock
	logger         *slog.Logger
	schema         *gojsonschema.Schema
}

// New opens the store rooted at cfg.Dir and acquires the single-writer
// lock. A second orchestrator on the same directory gets ErrStoreLocked.
func New(cfg config.Store, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(cfg.Dir, snapshotsDir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Dir, lockFile))

	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}

	if !held {
		return nil, fmt.Errorf("%s: %w", cfg.Dir, persistence.ErrStoreLocked)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stateSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid state schema: %w", err)
	}

	return &Store{
		dir:            cfg.Dir,
		stalenessBound: cfg.StalenessBound,
		keepSnapshots:  cfg.KeepSnapshots,
		lock:           lock,
		logger:         logger.With("module", "store"),
		schema:         schema,
	}, nil
}

// NewReadOnly opens the store without taking the writer lock. Used by
// observers that only need the last committed document.
func NewReadOnly(cfg config.Store, logger *slog.Logger) (*Store, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stateSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid state schema: %w", err)
	}

	return &Store{
		dir:            cfg.Dir,
		stalenessBound: cfg.StalenessBound,
		keepSnapshots:  cfg.KeepSnapshots,
		logger:         logger.With("module", "store"),
		schema:         schema,
	}, nil
}

// Close releases the writer lock.
func (s *Store) Close(_ context.Context) error {
	if s.lock == nil {
		return nil
	}

	return s.lock.Unlock()
}

// Load returns the last committed run. A missing, corrupt, or stale primary
// document triggers recovery from the newest valid snapshot; the restored
// run carries provenance metadata. A stale-but-valid primary with no newer
// snapshot is returned as is.
func (s *Store) Load(ctx context.Context) (*models.Run, error) {
	path := filepath.Join(s.dir, stateFile)

	info, statErr := os.Stat(path)

	switch {
	case statErr != nil && os.IsNotExist(statErr):
		run, err := s.RestoreLatest(ctx)
		if err != nil {
			return nil, persistence.ErrRunNotFound
		}

		s.logger.Warn("primary state missing, restored from snapshot", "restored_from", run.RestoredFrom)

		return run, nil

	case statErr != nil:
		return nil, fmt.Errorf("failed to stat state file: %w", statErr)
	}

	run, err := s.readDocument(path)
	if err != nil {
		s.logger.Error("primary state unreadable, attempting snapshot restore", "error", err)

		restored, restoreErr := s.RestoreLatest(ctx)
		if restoreErr != nil {
			return nil, fmt.Errorf("primary corrupt and no valid snapshot, run is unrecoverable: %w", persistence.ErrStoreCorrupt)
		}

		return restored, nil
	}

	if s.stalenessBound > 0 && time.Since(info.ModTime()) > s.stalenessBound {
		if restored, restoreErr := s.restoreNewerThan(info.ModTime()); restoreErr == nil {
			s.logger.Warn("primary state stale, restored newer snapshot", "restored_from", restored.RestoredFrom)

			return restored, nil
		}

		s.logger.Warn("primary state older than staleness bound, no newer snapshot available",
			"age", time.Since(info.ModTime()).String())
	}

	return run, nil
}

// Save commits the run atomically: the document is written to a temp file in
// the same directory and renamed over the primary, so a crash mid-write
// leaves the previous commit intact.
func (s *Store) Save(_ context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to sync state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, stateFile)); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to commit state: %w", err)
	}

	return nil
}

// readDocument parses and schema-checks one state document.
func (s *Store) readDocument(path string) (*models.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, persistence.ErrStoreCorrupt)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("%s failed schema validation (%s): %w", path, result.Errors()[0], persistence.ErrStoreCorrupt)
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, persistence.ErrStoreCorrupt)
	}

	return &run, nil
}
