package protocol

import (
	"context"
	"log/slog"

	"github.com/rigorlab/rigor/pkg/models"
)

// Request carries everything a collaborator may read for one invocation.
type Request struct {
	RunID       string
	Stage       models.Stage
	ProjectRoot string

	// Remediation is the fix suggestion derived from the previous
	// iteration's validation, empty on the first iteration.
	Remediation string
}

// Collaborator is an external stage executor. The orchestrator does not know
// what it computes; it only receives artifact references keyed for the run
// context. Invocations may be long-running and must honor ctx cancellation
// without corrupting previously deposited artifacts.
type Collaborator interface {
	ID() string
	Invoke(ctx context.Context, req Request) (map[string]string, error)
}

// CollaboratorFactory builds a collaborator once at configuration load.
type CollaboratorFactory interface {
	ID() string
	Create(deps Dependencies) (Collaborator, error)
}

// Dependencies are the shared services handed to factories.
type Dependencies struct {
	Logger      *slog.Logger
	ProjectRoot string
}

// TransientError marks a failure the invoker should retry with backoff,
// such as a network or availability error reported by the collaborator.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the invoker retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}
