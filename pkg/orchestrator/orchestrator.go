// Package orchestrator composes the phase machine, convergence controller,
// registry and state store into the run-level command surface.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/convergence"
	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/persistence"
	"github.com/rigorlab/rigor/pkg/phase"
	"github.com/rigorlab/rigor/pkg/protocol"
)

// Registry resolves stage validators and classifies human-action stages.
type Registry interface {
	ValidatorFor(stage models.Stage) protocol.Validator
	HumanStage(stage models.Stage) bool
}

// Status is the read-only view surfaced to operators and observers.
type Status struct {
	RunID               string       `json:"run_id"`
	Mode                models.Mode  `json:"mode"`
	CurrentStage        models.Stage `json:"current_stage"`
	LastScore           float64      `json:"last_score"`
	Iterations          int          `json:"iterations"`
	PendingConfirmation bool         `json:"pending_confirmation"`
	PendingTarget       models.Stage `json:"pending_target,omitempty"`
	Progress            float64      `json:"progress"`
	HumanStage          bool         `json:"human_stage"`
	Archived            bool         `json:"archived"`
	RestoredFrom        string       `json:"restored_from,omitempty"`
}

// Orchestrator drives exactly one workflow run. All state-changing
// operations run under a single mutex; read-only status queries go to the
// store's last committed document and never wait on it.
type Orchestrator struct {
	mu sync.Mutex

	cfg        config.Config
	store      persistence.StateStore
	machine    *phase.Machine
	controller *convergence.Controller
	registry   Registry
	logger     *slog.Logger
}

func New(
	cfg config.Config,
	store persistence.StateStore,
	machine *phase.Machine,
	controller *convergence.Controller,
	reg Registry,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		machine:    machine,
		controller: controller,
		registry:   reg,
		logger:     logger.With("module", "orchestrator"),
	}
}

// Init creates a new run in the store. Fails when one already exists.
func (o *Orchestrator) Init(ctx context.Context, mode models.Mode, humanSubjects bool) (*models.Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.store.Load(ctx); err == nil {
		return nil, ErrRunExists
	} else if !persistence.IsRunNotFound(err) {
		return nil, err
	}

	run := models.NewRun(mode, humanSubjects)
	run.Audit("run_initialized", run.CurrentStage, map[string]any{"mode": string(mode)})

	if err := o.store.Save(ctx, run); err != nil {
		return nil, err
	}

	o.logger.Info("run initialized", "run_id", run.ID, "mode", mode, "stage", run.CurrentStage)

	return run, nil
}

// Status reports the last committed state.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	run, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	return statusOf(run, o.registry), nil
}

// StatusView builds the status view from an already loaded run. Used by the
// observer API, which reads the store directly.
func StatusView(run *models.Run, reg Registry) *Status {
	return statusOf(run, reg)
}

func statusOf(run *models.Run, reg Registry) *Status {
	st := &Status{
		RunID:               run.ID,
		Mode:                run.Mode,
		CurrentStage:        run.CurrentStage,
		PendingConfirmation: run.Pending != nil,
		Progress:            run.Progress(),
		HumanStage:          reg.HumanStage(run.CurrentStage),
		Archived:            run.ArchivedAt != nil,
		RestoredFrom:        run.RestoredFrom,
	}

	if rec := run.OpenRecord(); rec != nil {
		st.LastScore = rec.LastScore()
		st.Iterations = len(rec.Iterations)
	}

	if run.Pending != nil {
		st.PendingTarget = run.Pending.To
	}

	return st
}

// History returns the run's append-only stage history.
func (o *Orchestrator) History(ctx context.Context) ([]*models.StageRecord, error) {
	run, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	return run.StageHistory, nil
}

// RunIteration executes one convergence iteration for the current stage and
// applies the controller's decision under the run's mode gating.
func (o *Orchestrator) RunIteration(ctx context.Context) (*convergence.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	if run.Pending != nil {
		return nil, fmt.Errorf("stage %s already converged: %w", run.Pending.From, ErrAwaitingConfirmation)
	}

	if o.registry.HumanStage(run.CurrentStage) {
		return nil, fmt.Errorf("stage %s: %w", run.CurrentStage, ErrHumanStage)
	}

	o.resumeEscalated(run)

	result, err := o.controller.RunIteration(ctx, run, o.cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}

	return result, o.applyDecision(ctx, run, result)
}

// MarkComplete signals that the external human work for the current stage is
// done. The exit check and convergence decision run exactly as for an
// automated stage, without a collaborator invocation.
func (o *Orchestrator) MarkComplete(ctx context.Context) (*convergence.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	if run.Pending != nil {
		return nil, fmt.Errorf("stage %s already converged: %w", run.Pending.From, ErrAwaitingConfirmation)
	}

	if !o.registry.HumanStage(run.CurrentStage) {
		return nil, fmt.Errorf("stage %s has a collaborator; use iterate", run.CurrentStage)
	}

	o.resumeEscalated(run)

	result, err := o.controller.Evaluate(run)
	if err != nil {
		return nil, err
	}

	return result, o.applyDecision(ctx, run, result)
}

// applyDecision persists the controller's verdict. In interactive mode a
// successful convergence parks as a pending decision; autonomous mode
// transitions immediately. Escalations halt the run in both modes.
func (o *Orchestrator) applyDecision(ctx context.Context, run *models.Run, result *convergence.Result) error {
	switch result.Decision {
	case convergence.DecisionContinue:
		return o.store.Save(ctx, run)

	case convergence.DecisionEscalate:
		// The escalated visit closes for good; the next iterate or
		// complete re-enters the stage with a fresh attempt.
		if err := run.CloseStage(models.OutcomeEscalated, result.Reason); err != nil {
			return err
		}

		if err := o.store.Save(ctx, run); err != nil {
			return err
		}

		return o.escalationError(run.CurrentStage, result)

	case convergence.DecisionAdvance, convergence.DecisionAcceptPartial:
		outcome := models.OutcomeAdvanced
		if result.Decision == convergence.DecisionAcceptPartial {
			outcome = models.OutcomeConvergedPartial
		}

		target, _ := o.nextStage(run)

		if run.Mode == models.ModeInteractive {
			run.Pending = &models.PendingAdvance{
				From:      run.CurrentStage,
				To:        target,
				Outcome:   outcome,
				Score:     result.Validation.Score,
				Caveat:    result.Caveat,
				DecidedAt: time.Now().UTC(),
			}
			run.Audit("advance_pending", run.CurrentStage, map[string]any{"to": string(target), "score": result.Validation.Score})

			return o.store.Save(ctx, run)
		}

		if err := o.commitAdvance(ctx, run, target, outcome, result.Caveat); err != nil {
			// The iteration already happened; a refused transition must
			// not drop it from the persisted history.
			if saveErr := o.store.Save(ctx, run); saveErr != nil {
				o.logger.Error("failed to save after refused transition", "run_id", run.ID, "error", saveErr)
			}

			return err
		}

		return nil

	default:
		return fmt.Errorf("unknown convergence decision %q", result.Decision)
	}
}

// ConfirmAdvance applies a pending advance decision. Interactive mode only;
// this is the explicit act that both exits the converged stage and enters
// the next one.
func (o *Orchestrator) ConfirmAdvance(ctx context.Context) (*Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	if run.Mode != models.ModeInteractive {
		return nil, fmt.Errorf("run %s is autonomous; transitions apply automatically", run.ID)
	}

	if run.Pending == nil {
		return nil, ErrNothingPending
	}

	pending := run.Pending
	run.Pending = nil

	if err := o.commitAdvance(ctx, run, pending.To, pending.Outcome, pending.Caveat); err != nil {
		// Leave the decision pending so a blocked entry can be retried
		// after the operator resolves the precondition.
		run.Pending = pending

		return nil, err
	}

	return statusOf(run, o.registry), nil
}

// commitAdvance snapshots, closes the open stage record, and transitions.
// An empty target means the terminal stage completed; the run stays put,
// ready for archival.
func (o *Orchestrator) commitAdvance(ctx context.Context, run *models.Run, target models.Stage, outcome models.Outcome, caveat string) error {
	if _, err := o.store.Snapshot(ctx, run); err != nil {
		return fmt.Errorf("failed to snapshot before transition: %w", err)
	}

	if err := run.CloseStage(outcome, caveat); err != nil {
		return err
	}

	if target == "" {
		run.Audit("workflow_complete", run.CurrentStage, nil)
		o.logger.Info("workflow complete", "run_id", run.ID)

		return o.store.Save(ctx, run)
	}

	// Entry gating runs after the exit is recorded so checks that require
	// the departing stage to count as completed see it that way. A refused
	// entry reopens the record, keeping the attempt intact and retryable.
	entry := o.registry.ValidatorFor(target).EntryCheck(run).Normalize()
	if !entry.Passed {
		run.ReopenStage()

		return &phase.TransitionError{
			From:   run.CurrentStage,
			To:     target,
			Reason: strings.Join(entry.BlockingIssues, "; "),
			Err:    phase.ErrEntryBlocked,
		}
	}

	if err := o.machine.Transition(run, target); err != nil {
		run.ReopenStage()

		return err
	}

	return o.store.Save(ctx, run)
}

// Rollback moves the run backward along a whitelisted revision edge,
// abandoning intermediate visits and tombstoning their context.
func (o *Orchestrator) Rollback(ctx context.Context, target models.Stage) (*Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := o.store.Snapshot(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to snapshot before rollback: %w", err)
	}

	run.Pending = nil

	if err := o.machine.Transition(run, target); err != nil {
		return nil, err
	}

	if err := o.store.Save(ctx, run); err != nil {
		return nil, err
	}

	return statusOf(run, o.registry), nil
}

// SetMode switches the run's gating mode. Switches happen between
// iterations by construction; switching into autonomous is treated as a
// destructive operation and snapshotted first.
func (o *Orchestrator) SetMode(ctx context.Context, mode models.Mode) (*Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	if run.Mode == mode {
		return statusOf(run, o.registry), nil
	}

	if mode == models.ModeAutonomous {
		if _, err := o.store.Snapshot(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to snapshot before mode switch: %w", err)
		}
	}

	run.Mode = mode
	run.Audit("mode_switched", run.CurrentStage, map[string]any{"mode": string(mode)})

	if err := o.store.Save(ctx, run); err != nil {
		return nil, err
	}

	return statusOf(run, o.registry), nil
}

// Archive marks a terminally completed run as destroyed for the
// orchestrator's purposes. Only legal after the terminal stage advanced.
func (o *Orchestrator) Archive(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.store.Load(ctx)
	if err != nil {
		return err
	}

	if !run.HasCompleted(models.TerminalStage()) {
		return fmt.Errorf("run %s has not completed %s", run.ID, models.TerminalStage())
	}

	now := time.Now().UTC()
	run.ArchivedAt = &now
	run.Audit("run_archived", run.CurrentStage, nil)

	return o.store.Save(ctx, run)
}

// resumeEscalated re-enters the current stage when its last visit ended in
// escalation. The closed record stays in the history; the new visit starts
// a fresh iteration budget, so the operator can raise limits or fix the
// underlying artifacts and try again.
func (o *Orchestrator) resumeEscalated(run *models.Run) {
	if run.OpenRecord() != nil || len(run.StageHistory) == 0 {
		return
	}

	last := run.StageHistory[len(run.StageHistory)-1]
	if last.Stage != run.CurrentStage || last.Outcome != models.OutcomeEscalated {
		return
	}

	run.EnterStage(run.CurrentStage)
	o.logger.Info("resuming escalated stage", "run_id", run.ID, "stage", run.CurrentStage)
}

func (o *Orchestrator) loadActive(ctx context.Context) (*models.Run, error) {
	run, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if run.ArchivedAt != nil {
		return nil, ErrRunArchived
	}

	return run, nil
}

// nextStage resolves the forward target for the current stage, honoring the
// IRB skip for non-human-subjects runs. ok is false at the terminal stage.
func (o *Orchestrator) nextStage(run *models.Run) (models.Stage, bool) {
	if run.CurrentStage == models.StageExperimentalDesign && !run.HumanSubjects {
		return models.StageDataCollection, true
	}

	return run.CurrentStage.Next()
}

// escalationError surfaces the full diagnostics so the operator can decide
// whether to raise limits, fix artifacts, or abandon the stage.
func (o *Orchestrator) escalationError(stage models.Stage, result *convergence.Result) error {
	parts := []string{fmt.Sprintf("stage %s after %d iteration(s): %s", stage, result.Iteration.Index, result.Reason)}

	if len(result.Validation.BlockingIssues) > 0 {
		parts = append(parts, "blocking: "+strings.Join(result.Validation.BlockingIssues, "; "))
	}

	if len(result.Validation.MissingItems) > 0 {
		parts = append(parts, "missing: "+strings.Join(result.Validation.MissingItems, "; "))
	}

	return fmt.Errorf("%s: %w", strings.Join(parts, " | "), ErrEscalated)
}
