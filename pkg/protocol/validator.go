// Package protocol defines the contracts between the orchestrator and the
// pluggable stage validators and collaborators.
package protocol

import "github.com/rigorlab/rigor/pkg/models"

// Validator gates entry into and exit out of one stage.
//
// Validators are pure with respect to the run: they never mutate it and
// perform no I/O beyond reading artifacts already deposited under the
// project root by a collaborator.
type Validator interface {
	// EntryCheck reports whether the stage may be entered.
	EntryCheck(run *models.Run) models.ValidationResult

	// ExitCheck reports whether the stage's completion criteria are met.
	// Hard requirements go into BlockingIssues, partial compliance into
	// MissingItems.
	ExitCheck(run *models.Run) models.ValidationResult
}
