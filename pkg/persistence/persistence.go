// Package persistence provides the durable storage abstraction for workflow
// run state.
package persistence

import (
	"context"

	"github.com/rigorlab/rigor/pkg/models"
)

// StateStore persists one workflow run. Implementations must make Save
// atomic (a crash mid-write never corrupts the previously committed
// document) and must enforce a single writer per run.
type StateStore interface {
	// Load returns the last committed run. When the primary document is
	// missing, unreadable, or stale, implementations attempt recovery from
	// the most recent valid snapshot and mark the run with restore
	// provenance before returning it.
	Load(ctx context.Context) (*models.Run, error)

	// Save commits the run atomically.
	Save(ctx context.Context, run *models.Run) error

	// Snapshot writes a point-in-time durable copy and returns its ID.
	Snapshot(ctx context.Context, run *models.Run) (string, error)

	// RestoreLatest loads the most recent valid snapshot.
	RestoreLatest(ctx context.Context) (*models.Run, error)

	// Close releases the store's writer lock.
	Close(ctx context.Context) error
}
