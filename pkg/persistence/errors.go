package persistence

import "errors"

var (
	// ErrRunNotFound indicates no run state exists in the store.
	ErrRunNotFound = errors.New("run not found")

	// ErrStoreCorrupt indicates the state document failed to parse or
	// validate. Triggers restore-from-snapshot; when no valid snapshot
	// exists either, the wrapped error says so and the run requires manual
	// intervention.
	ErrStoreCorrupt = errors.New("state store corrupt")

	// ErrStoreLocked indicates another orchestrator holds the run's
	// single-writer lock.
	ErrStoreLocked = errors.New("state store locked by another process")
)

// IsRunNotFound checks if err indicates missing run state.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsStoreCorrupt checks if err indicates an unreadable state document.
func IsStoreCorrupt(err error) bool {
	return errors.Is(err, ErrStoreCorrupt)
}

// IsStoreLocked checks if err indicates a held writer lock.
func IsStoreLocked(err error) bool {
	return errors.Is(err, ErrStoreLocked)
}
