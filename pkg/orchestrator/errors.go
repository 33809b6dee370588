package orchestrator

import "errors"

var (
	// ErrRunExists indicates init was called on a store that already holds
	// a run.
	ErrRunExists = errors.New("run already initialized")

	// ErrEscalated indicates the stage attempt was handed to the operator.
	// The run halts until the operator intervenes, in both modes.
	ErrEscalated = errors.New("stage escalated")

	// ErrHumanStage indicates the current stage has no collaborator and
	// progresses only through an explicit mark-complete signal.
	ErrHumanStage = errors.New("stage requires external human action")

	// ErrAwaitingConfirmation indicates an advance decision is pending an
	// explicit confirmation.
	ErrAwaitingConfirmation = errors.New("advance awaiting confirmation")

	// ErrNothingPending indicates confirm was called with no pending
	// advance decision.
	ErrNothingPending = errors.New("no advance pending confirmation")

	// ErrRunArchived indicates the run reached terminal completion and was
	// archived; no further operations apply.
	ErrRunArchived = errors.New("run is archived")
)

// IsEscalated checks whether err reports an escalated stage attempt.
func IsEscalated(err error) bool {
	return errors.Is(err, ErrEscalated)
}
