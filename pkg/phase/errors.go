// Package phase owns the canonical stage sequence and the legal transitions
// between stages.
package phase

import (
	"errors"
	"fmt"

	"github.com/rigorlab/rigor/pkg/models"
)

var (
	// ErrIllegalTransition indicates the requested edge is not in the
	// adjacency table. Never retried.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrEntryBlocked indicates a stage precondition is unmet. The request
	// may be retried after the operator resolves the precondition.
	ErrEntryBlocked = errors.New("stage entry blocked")
)

// TransitionError carries the edge that was refused.
type TransitionError struct {
	From   models.Stage
	To     models.Stage
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transition %s -> %s refused: %s", e.From, e.To, e.Reason)
	}

	return fmt.Sprintf("transition %s -> %s refused: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// IsIllegalTransition checks whether err is an adjacency-table refusal.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsEntryBlocked checks whether err is an unmet stage precondition.
func IsEntryBlocked(err error) bool {
	return errors.Is(err, ErrEntryBlocked)
}
